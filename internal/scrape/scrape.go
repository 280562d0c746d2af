// Package scrape gathers rows from the configured sources into one dataset
// batch in the layout the ingester reads.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/scrape/feeds"
	"vibecheck/internal/scrape/youtube"
)

var ErrNoSources = errors.New("no scrape sources configured")

type Options struct {
	YouTube bool
	Feeds   bool
}

type Result struct {
	Rows    []dataset.Row
	YouTube int
	Feeds   int
}

// Collect runs each enabled source and merges their rows. A failing source
// does not discard what the others returned; its error is joined into the
// returned one.
func Collect(ctx context.Context, cfg config.AppConfig, opts Options, logger *log.Logger) (Result, error) {
	var res Result
	var batches [][]dataset.Row
	var errs []error
	ran := false

	if opts.YouTube && len(cfg.YouTube.ChannelIDs) > 0 {
		ran = true
		rows, err := youtube.New(cfg.YouTube, logger).Scrape(ctx, cfg.YouTube.ChannelIDs)
		if err != nil {
			errs = append(errs, fmt.Errorf("youtube: %w", err))
		}
		res.YouTube = len(rows)
		batches = append(batches, rows)
	}
	if opts.Feeds && len(cfg.Feeds.Sources) > 0 {
		ran = true
		rows, err := feeds.New(cfg.Feeds, logger).Scrape(ctx, cfg.Feeds.Sources)
		if err != nil {
			errs = append(errs, fmt.Errorf("feeds: %w", err))
		}
		res.Feeds = len(rows)
		batches = append(batches, rows)
	}
	if !ran {
		return res, ErrNoSources
	}

	res.Rows = dataset.Merge(batches...)
	if logger != nil {
		logger.Printf("scrape completed: youtube=%d feeds=%d merged=%d", res.YouTube, res.Feeds, len(res.Rows))
	}
	return res, errors.Join(errs...)
}
