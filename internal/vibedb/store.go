package vibedb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ContentInsert captures the columns written for a new content row.
type ContentInsert struct {
	InfluencerID int64
	Platform     string
	URL          string
	Title        string
}

// Every insert below is a single autocommitted statement that does nothing when
// the natural key is already taken. The bool result reports whether a row was
// written; false with a nil error means a concurrent or earlier insert won.

func (db *DB) InsertInfluencer(ctx context.Context, name string) (int64, bool, error) {
	if strings.TrimSpace(name) == "" {
		return 0, false, errors.New("missing influencer name")
	}
	return db.insertReturning(ctx, `INSERT INTO influencers (name) VALUES (?) ON CONFLICT DO NOTHING RETURNING id`, name)
}

func (db *DB) InsertContent(ctx context.Context, c ContentInsert) (int64, bool, error) {
	if strings.TrimSpace(c.URL) == "" {
		return 0, false, errors.New("missing content url")
	}
	return db.insertReturning(ctx, `INSERT INTO content (influencer_id, platform, url, title) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING RETURNING id`,
		c.InfluencerID, c.Platform, c.URL, nullIfEmpty(c.Title))
}

func (db *DB) InsertComment(ctx context.Context, contentID int64, text string) (int64, bool, error) {
	if strings.TrimSpace(text) == "" {
		return 0, false, errors.New("missing comment text")
	}
	return db.insertReturning(ctx, `INSERT INTO comments (content_id, comment_text) VALUES (?, ?) ON CONFLICT DO NOTHING RETURNING id`, contentID, text)
}

func (db *DB) insertReturning(ctx context.Context, q string, args ...any) (int64, bool, error) {
	var id int64
	if err := db.queryRow(ctx, q, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// Counts returns the number of rows per table, for run summaries.
func (db *DB) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		var n int64
		if err := db.queryRow(ctx, `SELECT COUNT(*) FROM `+t.Name).Scan(&n); err != nil {
			return nil, err
		}
		out[t.Name] = n
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
