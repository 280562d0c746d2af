// Package youtube collects the latest upload and its top comments for a set of
// channels through the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/httpclient"
)

var ErrNoAPIKey = errors.New("youtube api key is not set")

// channels.list accepts at most 50 ids per call.
const maxIDsPerCall = 50

type Channel struct {
	ID      string
	Title   string
	Uploads string
}

type Video struct {
	ID    string
	Title string
	URL   string
}

// Scraper calls the Data API with a developer key.
type Scraper struct {
	Client      *httpclient.Client
	BaseURL     string
	APIKey      string
	MaxComments int
	Logger      *log.Logger
	// Attempts bounds retries of 5xx and transport errors per call.
	Attempts  int
	RetryBase time.Duration
}

func New(cfg config.YouTubeConfig, logger *log.Logger) *Scraper {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = config.Defaults().YouTube.BaseURL
	}
	maxComments := cfg.MaxComments
	if maxComments <= 0 {
		maxComments = 10
	}
	return &Scraper{
		Client:      httpclient.New(time.Duration(cfg.TimeoutSec) * time.Second),
		BaseURL:     base,
		APIKey:      strings.TrimSpace(cfg.APIKey),
		MaxComments: maxComments,
		Logger:      logger,
		Attempts:    3,
		RetryBase:   500 * time.Millisecond,
	}
}

func (s *Scraper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Scraper) get(ctx context.Context, resource string, q neturl.Values, out any) error {
	q.Set("key", s.APIKey)
	u := s.BaseURL + "/" + resource + "?" + q.Encode()
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return httpclient.RetryWithBackoff(ctx, attempts, s.RetryBase, httpclient.Retryable, func() error {
		return s.Client.GetJSON(ctx, u, nil, out)
	})
}

// Channels resolves channel ids to their titles and uploads playlists. Ids the
// API does not know are left out.
func (s *Scraper) Channels(ctx context.Context, ids []string) ([]Channel, error) {
	var clean []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	var out []Channel
	for start := 0; start < len(clean); start += maxIDsPerCall {
		end := min(start+maxIDsPerCall, len(clean))
		var resp struct {
			Items []struct {
				ID      string `json:"id"`
				Snippet struct {
					Title string `json:"title"`
				} `json:"snippet"`
				ContentDetails struct {
					RelatedPlaylists struct {
						Uploads string `json:"uploads"`
					} `json:"relatedPlaylists"`
				} `json:"contentDetails"`
			} `json:"items"`
		}
		q := neturl.Values{}
		q.Set("part", "snippet,contentDetails")
		q.Set("id", strings.Join(clean[start:end], ","))
		if err := s.get(ctx, "channels", q, &resp); err != nil {
			return out, fmt.Errorf("list channels: %w", err)
		}
		for _, it := range resp.Items {
			ch := Channel{
				ID:      strings.TrimSpace(it.ID),
				Title:   strings.TrimSpace(it.Snippet.Title),
				Uploads: strings.TrimSpace(it.ContentDetails.RelatedPlaylists.Uploads),
			}
			if ch.Title == "" || ch.Uploads == "" {
				s.logf("youtube channel skipped (no title or uploads): id=%s", ch.ID)
				continue
			}
			out = append(out, ch)
		}
	}
	return out, nil
}

// LatestVideo returns the newest item of an uploads playlist. found is false
// for an empty playlist.
func (s *Scraper) LatestVideo(ctx context.Context, playlistID string) (Video, bool, error) {
	var resp struct {
		Items []struct {
			Snippet struct {
				Title      string `json:"title"`
				ResourceID struct {
					VideoID string `json:"videoId"`
				} `json:"resourceId"`
			} `json:"snippet"`
		} `json:"items"`
	}
	q := neturl.Values{}
	q.Set("part", "snippet")
	q.Set("playlistId", playlistID)
	q.Set("maxResults", "1")
	if err := s.get(ctx, "playlistItems", q, &resp); err != nil {
		return Video{}, false, fmt.Errorf("list playlist %s: %w", playlistID, err)
	}
	if len(resp.Items) == 0 {
		return Video{}, false, nil
	}
	sn := resp.Items[0].Snippet
	id := strings.TrimSpace(sn.ResourceID.VideoID)
	if id == "" {
		return Video{}, false, nil
	}
	return Video{ID: id, Title: strings.TrimSpace(sn.Title), URL: WatchURL(id)}, true, nil
}

// TopComments returns the most relevant top-level comments as plain text.
// A 403 means comments are disabled for the video and yields no comments.
func (s *Scraper) TopComments(ctx context.Context, videoID string) ([]string, error) {
	var resp struct {
		Items []struct {
			Snippet struct {
				TopLevelComment struct {
					Snippet struct {
						TextDisplay string `json:"textDisplay"`
					} `json:"snippet"`
				} `json:"topLevelComment"`
			} `json:"snippet"`
		} `json:"items"`
	}
	q := neturl.Values{}
	q.Set("part", "snippet")
	q.Set("videoId", videoID)
	q.Set("maxResults", strconv.Itoa(s.MaxComments))
	q.Set("order", "relevance")
	if err := s.get(ctx, "commentThreads", q, &resp); err != nil {
		if httpclient.HasStatus(err, http.StatusForbidden) {
			s.logf("youtube comments disabled: video=%s", videoID)
			return nil, nil
		}
		return nil, fmt.Errorf("list comments %s: %w", videoID, err)
	}
	var out []string
	for _, it := range resp.Items {
		if text := htmlToText(it.Snippet.TopLevelComment.Snippet.TextDisplay); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// Scrape emits one row per top comment on each channel's latest upload. A
// channel that fails is logged and skipped; its error is joined into the
// returned error alongside the rows collected from the others.
func (s *Scraper) Scrape(ctx context.Context, channelIDs []string) ([]dataset.Row, error) {
	if s.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	channels, err := s.Channels(ctx, channelIDs)
	if err != nil {
		return nil, err
	}
	s.logf("youtube channels resolved: requested=%d found=%d", len(channelIDs), len(channels))

	var rows []dataset.Row
	var errs []error
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		video, found, err := s.LatestVideo(ctx, ch.Uploads)
		if err != nil {
			s.logf("youtube latest video failed: channel=%q err=%v", ch.Title, err)
			errs = append(errs, err)
			continue
		}
		if !found {
			s.logf("youtube channel has no uploads: channel=%q", ch.Title)
			continue
		}
		comments, err := s.TopComments(ctx, VideoID(video.URL))
		if err != nil {
			s.logf("youtube comments failed: channel=%q video=%s err=%v", ch.Title, video.ID, err)
			errs = append(errs, err)
			continue
		}
		for _, c := range comments {
			rows = append(rows, dataset.Row{Name: ch.Title, Title: video.Title, URL: video.URL, Comment: c})
		}
		s.logf("youtube video scraped: channel=%q title=%q comments=%d", ch.Title, video.Title, len(comments))
	}
	return rows, errors.Join(errs...)
}
