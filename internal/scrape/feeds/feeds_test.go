package feeds

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
)

const gossipRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Gossip</title>
  <item><title>Alice spotted downtown</title><link>https://gossip.example/1</link></item>
  <item><title>Weekend roundup</title><link>https://gossip.example/2</link><description>Bob and alice at the party</description></item>
  <item><title>Unrelated  news</title><link>https://gossip.example/3</link></item>
  <item><title></title><link>https://gossip.example/4</link></item>
</channel>
</rss>`

const blogAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Bob's blog</title>
  <entry><title>First post</title><link href="https://bob.example/first"/><id>1</id><updated>2024-01-01T00:00:00Z</updated></entry>
  <entry><title>Second post</title><link href="https://bob.example/second"/><id>2</id><updated>2024-01-02T00:00:00Z</updated></entry>
  <entry><title>Third post</title><link href="https://bob.example/third"/><id>3</id><updated>2024-01-03T00:00:00Z</updated></entry>
</feed>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gossip.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(gossipRSS))
		case "/bob.xml":
			w.Header().Set("Content-Type", "application/atom+xml")
			w.Write([]byte(blogAtom))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrape(t *testing.T) {
	srv := newServer(t)
	s := New(config.FeedsConfig{TimeoutSec: 5, MaxPostsPerFeed: 2}, nil)

	rows, err := s.Scrape(testContext(t), []config.FeedSource{
		{Name: "Alice", URL: srv.URL + "/gossip.xml", MatchName: true},
		{Name: "Bob", URL: srv.URL + "/bob.xml"},
	})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	want := []dataset.Row{
		{Name: "Alice", Title: "Alice spotted downtown", URL: "https://gossip.example/1"},
		{Name: "Alice", Title: "Weekend roundup", URL: "https://gossip.example/2"},
		{Name: "Bob", Title: "First post", URL: "https://bob.example/first"},
		{Name: "Bob", Title: "Second post", URL: "https://bob.example/second"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d: %+v", len(want), len(rows), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d: got %+v, want %+v", i, rows[i], want[i])
		}
		if rows[i].HasComment() {
			t.Errorf("row %d should carry no comment", i)
		}
	}
}

func TestScrapeWithoutFilterOrCap(t *testing.T) {
	srv := newServer(t)
	s := New(config.FeedsConfig{}, nil)
	rows, err := s.Scrape(testContext(t), []config.FeedSource{{Name: "Alice", URL: srv.URL + "/gossip.xml"}})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	// The untitled item is dropped and the double space is collapsed.
	if len(rows) != 3 || rows[2].Title != "Unrelated news" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestScrapeFailedFeed(t *testing.T) {
	srv := newServer(t)
	s := New(config.FeedsConfig{TimeoutSec: 5}, nil)
	rows, err := s.Scrape(testContext(t), []config.FeedSource{
		{Name: "Ghost", URL: srv.URL + "/missing.xml"},
		{Name: "", URL: srv.URL + "/bob.xml"},
		{Name: "Bob", URL: srv.URL + "/bob.xml"},
	})
	if err == nil {
		t.Fatal("expected an error for the failed feeds")
	}
	if len(rows) != 3 {
		t.Fatalf("expected the healthy feed to still produce rows, got %+v", rows)
	}
}
