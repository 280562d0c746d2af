package ingest

import (
	"context"
	"log"
	"strings"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/vibedb"
)

// Outcome classifies what happened to one row in one stage.
type Outcome int

const (
	// Inserted: a new row was written and committed.
	Inserted Outcome = iota
	// Skipped: the natural key already exists; not an error.
	Skipped
	// Rejected: a parent row could not be resolved, nothing was written.
	Rejected
	// Failed: the store returned an error for this row.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// InferPlatform tags content by whether its row carries a comment: only the
// commented source supplies comments, everything else is the fallback source.
func InferPlatform(row dataset.Row, p config.PlatformConfig) string {
	if row.HasComment() {
		if p.Commented != "" {
			return p.Commented
		}
		return config.DefaultCommentedPlatform
	}
	if p.Fallback != "" {
		return p.Fallback
	}
	return config.DefaultFallbackPlatform
}

// Engine performs the per-row upserts. Every write is its own committed
// statement, so a later failure never undoes an earlier row.
type Engine struct {
	DB        *vibedb.DB
	Resolver  *vibedb.Resolver
	Platforms config.PlatformConfig
	Bridge    string
	Logger    *log.Logger
}

func NewEngine(db *vibedb.DB, cfg config.AppConfig, logger *log.Logger) *Engine {
	return &Engine{
		DB:        db,
		Resolver:  vibedb.NewResolver(db),
		Platforms: cfg.Platforms,
		Bridge:    cfg.CommentBridge,
		Logger:    logger,
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e *Engine) UpsertInfluencer(ctx context.Context, row dataset.Row) (Outcome, error) {
	name := strings.TrimSpace(row.Name)
	if _, found, err := e.Resolver.InfluencerID(ctx, name); err != nil {
		e.logf("influencer lookup failed: name=%q err=%v", name, err)
		return Failed, err
	} else if found {
		return Skipped, nil
	}
	_, inserted, err := e.DB.InsertInfluencer(ctx, name)
	if err != nil {
		e.logf("influencer insert failed: name=%q err=%v", name, err)
		return Failed, err
	}
	if !inserted {
		return Skipped, nil
	}
	e.logf("influencer added: name=%q", name)
	return Inserted, nil
}

func (e *Engine) UpsertContent(ctx context.Context, row dataset.Row) (Outcome, error) {
	url := strings.TrimSpace(row.URL)
	if _, found, err := e.Resolver.ContentIDByURL(ctx, url); err != nil {
		e.logf("content lookup failed: url=%s err=%v", url, err)
		return Failed, err
	} else if found {
		return Skipped, nil
	}

	platform := InferPlatform(row, e.Platforms)
	infID, found, err := e.Resolver.InfluencerID(ctx, strings.TrimSpace(row.Name))
	if err != nil {
		e.logf("influencer lookup failed: name=%q err=%v", row.Name, err)
		return Failed, err
	}
	if !found {
		e.logf("warning: content rejected (influencer not found): name=%q title=%q url=%s", row.Name, row.Title, url)
		return Rejected, nil
	}

	_, inserted, err := e.DB.InsertContent(ctx, vibedb.ContentInsert{
		InfluencerID: infID,
		Platform:     platform,
		URL:          url,
		Title:        strings.TrimSpace(row.Title),
	})
	if err != nil {
		e.logf("content insert failed: url=%s err=%v", url, err)
		return Failed, err
	}
	if !inserted {
		return Skipped, nil
	}
	e.logf("content added: title=%q influencer=%q platform=%s", row.Title, row.Name, platform)
	return Inserted, nil
}

func (e *Engine) UpsertComment(ctx context.Context, row dataset.Row) (Outcome, error) {
	text := strings.TrimSpace(row.Comment)
	contentID, found, err := e.contentFor(ctx, row)
	if err != nil {
		e.logf("content lookup failed: title=%q url=%s err=%v", row.Title, row.URL, err)
		return Failed, err
	}
	if !found {
		e.logf("warning: comment rejected (content not found): bridge=%s title=%q url=%s", e.bridge(), row.Title, row.URL)
		return Rejected, nil
	}

	if _, found, err := e.Resolver.CommentID(ctx, contentID, text); err != nil {
		e.logf("comment lookup failed: content_id=%d err=%v", contentID, err)
		return Failed, err
	} else if found {
		return Skipped, nil
	}
	_, inserted, err := e.DB.InsertComment(ctx, contentID, text)
	if err != nil {
		e.logf("comment insert failed: content_id=%d err=%v", contentID, err)
		return Failed, err
	}
	if !inserted {
		return Skipped, nil
	}
	e.logf("comment added: title=%q content_id=%d", row.Title, contentID)
	return Inserted, nil
}

func (e *Engine) bridge() string {
	if e.Bridge == config.BridgeTitle {
		return config.BridgeTitle
	}
	return config.BridgeURL
}

// contentFor finds the content a comment row belongs to. The url is the
// default bridge; title matching is kept for datasets that predate it.
func (e *Engine) contentFor(ctx context.Context, row dataset.Row) (int64, bool, error) {
	if e.bridge() == config.BridgeTitle {
		return e.Resolver.ContentIDByTitle(ctx, strings.TrimSpace(row.Title))
	}
	return e.Resolver.ContentIDByURL(ctx, strings.TrimSpace(row.URL))
}
