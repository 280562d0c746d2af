package vibedb

import (
	"context"
	"database/sql"
	"errors"
)

// Resolver maps natural keys to surrogate ids. It always reads the live
// connection so rows inserted earlier in the same batch are visible.
// Should several rows share a key, the lowest id wins.
type Resolver struct {
	db *DB
}

func NewResolver(db *DB) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) InfluencerID(ctx context.Context, name string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM influencers WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (r *Resolver) ContentIDByURL(ctx context.Context, url string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM content WHERE url = ? ORDER BY id LIMIT 1`, url)
}

// ContentIDByTitle bridges a denormalized row to its content by title. Titles
// are not unique, so this is lossy when two items share one.
func (r *Resolver) ContentIDByTitle(ctx context.Context, title string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM content WHERE title = ? ORDER BY id LIMIT 1`, title)
}

func (r *Resolver) CommentID(ctx context.Context, contentID int64, text string) (int64, bool, error) {
	return r.lookup(ctx, `SELECT id FROM comments WHERE content_id = ? AND comment_text = ? ORDER BY id LIMIT 1`, contentID, text)
}

func (r *Resolver) lookup(ctx context.Context, q string, args ...any) (int64, bool, error) {
	var id int64
	if err := r.db.queryRow(ctx, q, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}
