// Package dataset reads and writes the cleaned tabular batch the ingester
// consumes: one row per (influencer, content item, optional comment).
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrMissingColumn = errors.New("missing required column")

// Header is the column layout shared by the scrapers and the ingester.
var Header = []string{"Name", "Title", "URL", "comment"}

// Row is one denormalized engagement record. An empty Comment means the row
// carries no comment.
type Row struct {
	Name    string
	Title   string
	URL     string
	Comment string
}

func (r Row) HasComment() bool {
	return strings.TrimSpace(r.Comment) != ""
}

// Valid reports whether the row has everything the ingester needs.
func (r Row) Valid() bool {
	return strings.TrimSpace(r.Name) != "" && strings.TrimSpace(r.Title) != "" && strings.TrimSpace(r.URL) != ""
}

// Stats describes what cleaning did to a raw file.
type Stats struct {
	Read    int
	Kept    int
	Dropped int
}

// Load reads and cleans the CSV at path.
func Load(path string) ([]Row, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a CSV with at least the Name, Title and URL columns (matched
// case-insensitively, other columns ignored) and drops rows missing any of them.
func Read(r io.Reader) ([]Row, Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Stats{}, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, Stats{}, err
	}
	idx := map[string]int{}
	for i, h := range head {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	for _, c := range Header[:3] {
		if _, ok := idx[strings.ToLower(c)]; !ok {
			return nil, Stats{}, fmt.Errorf("%w %q", ErrMissingColumn, c)
		}
	}
	commentIdx, hasComment := idx["comment"]

	field := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var (
		rows  []Row
		stats Stats
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, stats, err
		}
		stats.Read++
		row := Row{
			Name:  field(rec, idx["name"]),
			Title: field(rec, idx["title"]),
			URL:   field(rec, idx["url"]),
		}
		if hasComment {
			row.Comment = field(rec, commentIdx)
		}
		if !row.Valid() {
			stats.Dropped++
			continue
		}
		rows = append(rows, row)
		stats.Kept++
	}
	return rows, stats, nil
}

// Write renders rows in the Header layout.
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Name, r.Title, r.URL, r.Comment}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes rows to path, creating its directory.
func Save(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Merge concatenates batches, dropping exact duplicate rows while keeping
// first-seen order.
func Merge(batches ...[]Row) []Row {
	seen := map[Row]struct{}{}
	var out []Row
	for _, b := range batches {
		for _, r := range b {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
