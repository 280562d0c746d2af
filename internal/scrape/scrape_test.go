package scrape

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vibecheck/internal/config"
	"vibecheck/internal/scrape/youtube"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Alice at the premiere</title><link>https://news.example/1</link></item>
<item><title>Alice at the premiere</title><link>https://news.example/1</link></item>
</channel></rss>`

func TestCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed.xml" {
			w.Write([]byte(feedXML))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Feeds.Sources = []config.FeedSource{{Name: "Alice", URL: srv.URL + "/feed.xml"}}
	cfg.YouTube.ChannelIDs = []string{"UC1"}

	t.Run("FeedsOnly", func(t *testing.T) {
		res, err := Collect(testContext(t), cfg, Options{Feeds: true}, nil)
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		// The duplicated item collapses into one row.
		if res.Feeds != 2 || len(res.Rows) != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
		if res.Rows[0].Name != "Alice" || res.Rows[0].HasComment() {
			t.Errorf("unexpected row %+v", res.Rows[0])
		}
	})

	t.Run("FailingSourceKeepsOthers", func(t *testing.T) {
		// No api key: the youtube source fails, the feed still contributes.
		res, err := Collect(testContext(t), cfg, Options{YouTube: true, Feeds: true}, nil)
		if !errors.Is(err, youtube.ErrNoAPIKey) {
			t.Fatalf("expected ErrNoAPIKey, got %v", err)
		}
		if len(res.Rows) != 1 {
			t.Errorf("expected the feed row to survive, got %+v", res.Rows)
		}
	})

	t.Run("NothingEnabled", func(t *testing.T) {
		empty := config.Defaults()
		if _, err := Collect(testContext(t), empty, Options{YouTube: true, Feeds: true}, nil); !errors.Is(err, ErrNoSources) {
			t.Fatalf("expected ErrNoSources, got %v", err)
		}
	})
}
