// Package feeds turns RSS/Atom feeds into comment-less dataset rows, one per
// post, attributed to the influencer the feed is configured for.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
)

type Scraper struct {
	Client          *http.Client
	Logger          *log.Logger
	MaxPostsPerFeed int
	parser          *gofeed.Parser
}

func New(cfg config.FeedsConfig, logger *log.Logger) *Scraper {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	cli := &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
	p := gofeed.NewParser()
	p.Client = cli
	return &Scraper{Client: cli, Logger: logger, MaxPostsPerFeed: cfg.MaxPostsPerFeed, parser: p}
}

func (s *Scraper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

type feedResult struct {
	feed *gofeed.Feed
	err  error
}

// Scrape fetches every source concurrently and returns rows in source order.
// Feeds that fail are logged and skipped; their errors are joined into the
// returned error.
func (s *Scraper) Scrape(ctx context.Context, sources []config.FeedSource) ([]dataset.Row, error) {
	results := make([]feedResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		feedURL := strings.TrimSpace(src.URL)
		if feedURL == "" || strings.TrimSpace(src.Name) == "" {
			results[i].err = fmt.Errorf("feed source %d: name and url are required", i)
			continue
		}
		wg.Add(1)
		go func(i int, feedURL string) {
			defer wg.Done()
			f, err := s.parser.ParseURLWithContext(feedURL, ctx)
			results[i] = feedResult{feed: f, err: err}
		}(i, feedURL)
	}
	wg.Wait()

	var rows []dataset.Row
	var errs []error
	for i, src := range sources {
		r := results[i]
		if r.err != nil || r.feed == nil {
			s.logf("feed fetch failed: host=%s url=%s err=%v", hostOf(src.URL), src.URL, r.err)
			errs = append(errs, fmt.Errorf("feed %s: %w", src.URL, r.err))
			continue
		}
		got := s.rowsFor(src, r.feed)
		s.logf("feed parsed: name=%q host=%s items=%d kept=%d", src.Name, hostOf(src.URL), len(r.feed.Items), len(got))
		rows = append(rows, got...)
	}
	return rows, errors.Join(errs...)
}

func (s *Scraper) rowsFor(src config.FeedSource, f *gofeed.Feed) []dataset.Row {
	name := strings.TrimSpace(src.Name)
	var out []dataset.Row
	for _, it := range f.Items {
		if s.MaxPostsPerFeed > 0 && len(out) >= s.MaxPostsPerFeed {
			break
		}
		if it == nil {
			continue
		}
		title := strings.Join(strings.Fields(it.Title), " ")
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		if src.MatchName && !mentions(it, name) {
			continue
		}
		out = append(out, dataset.Row{Name: name, Title: title, URL: link})
	}
	return out
}

// mentions reports whether the item's title, description or categories name
// the influencer, case-insensitively.
func mentions(it *gofeed.Item, name string) bool {
	needle := strings.ToLower(name)
	hay := []string{it.Title, it.Description}
	hay = append(hay, it.Categories...)
	for _, h := range hay {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	if u, err := neturl.Parse(strings.TrimSpace(raw)); err == nil {
		return u.Host
	}
	return ""
}
