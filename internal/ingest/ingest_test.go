package ingest

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/vibedb"
)

func newTestLogger(w *bytes.Buffer) *log.Logger {
	return log.New(w, "", 0)
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database = config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "vibecheck.db")}
	cfg.Platforms = config.PlatformConfig{Commented: "commented-source", Fallback: "fallback-source"}
	return cfg
}

func openDB(t *testing.T, cfg config.AppConfig) *vibedb.DB {
	t.Helper()
	if _, err := vibedb.EnsureDatabase(testContext(t), cfg.Database); err != nil {
		t.Fatalf("ensure database: %v", err)
	}
	db, err := vibedb.Open(testContext(t), cfg.Database)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// snapshot renders every table row so two states can be compared.
func snapshot(t *testing.T, db *vibedb.DB) string {
	t.Helper()
	queries := []string{
		`SELECT id, name FROM influencers ORDER BY id`,
		`SELECT id, influencer_id, platform, url, title FROM content ORDER BY id`,
		`SELECT id, content_id, comment_text FROM comments ORDER BY id`,
		`SELECT id, influencer_id, content_id FROM votes ORDER BY id`,
	}
	var b strings.Builder
	for _, q := range queries {
		rows, err := db.QueryContext(testContext(t), q)
		if err != nil {
			t.Fatalf("snapshot %q: %v", q, err)
		}
		cols, _ := rows.Columns()
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				t.Fatalf("scan: %v", err)
			}
			fmt.Fprintln(&b, vals...)
		}
		rows.Close()
		b.WriteString("--\n")
	}
	return b.String()
}

func count(t *testing.T, db *vibedb.DB, q string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(testContext(t), q, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", q, err)
	}
	return n
}

var sampleRows = []dataset.Row{
	{Name: "Alice", Title: "T1", URL: "http://x/1", Comment: "nice!"},
	{Name: "Alice", Title: "T1", URL: "http://x/1", Comment: "love it"},
	{Name: "Alice", Title: "T1", URL: "http://x/1", Comment: "nice!"},
	{Name: "Bob", Title: "T2", URL: "http://x/2"},
	{Name: "Alice", Title: "T3", URL: "http://x/3"},
}

func TestPlatformInference(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)

	rows := []dataset.Row{
		{Name: "Alice", Title: "T1", URL: "http://x/1", Comment: "nice!"},
		{Name: "Bob", Title: "T2", URL: "http://x/2"},
	}
	rep := NewOrchestrator(db, cfg, nil).Run(testContext(t), rows)
	if err := rep.Err(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var platform string
	if err := db.QueryRowContext(testContext(t), `SELECT platform FROM content WHERE url = 'http://x/1'`).Scan(&platform); err != nil {
		t.Fatal(err)
	}
	if platform != "commented-source" {
		t.Errorf("expected commented-source, got %q", platform)
	}
	if err := db.QueryRowContext(testContext(t), `SELECT platform FROM content WHERE url = 'http://x/2'`).Scan(&platform); err != nil {
		t.Fatal(err)
	}
	if platform != "fallback-source" {
		t.Errorf("expected fallback-source, got %q", platform)
	}

	if n := count(t, db, `SELECT COUNT(*) FROM influencers WHERE name IN ('Alice', 'Bob')`); n != 2 {
		t.Errorf("expected both influencers, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM comments c JOIN content ct ON ct.id = c.content_id WHERE ct.title = 'T1' AND c.comment_text = 'nice!'`); n != 1 {
		t.Errorf("expected Alice's comment on T1, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM comments c JOIN content ct ON ct.id = c.content_id WHERE ct.url = 'http://x/2'`); n != 0 {
		t.Errorf("expected no comment for Bob's content, got %d", n)
	}
}

func TestInferPlatformDefaults(t *testing.T) {
	var empty config.PlatformConfig
	if got := InferPlatform(dataset.Row{Comment: "hi"}, empty); got != "YouTube" {
		t.Errorf("expected YouTube, got %q", got)
	}
	if got := InferPlatform(dataset.Row{Comment: "   "}, empty); got != "TMZ" {
		t.Errorf("blank comment should count as absent, got %q", got)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	orch := NewOrchestrator(db, cfg, nil)

	first := orch.Run(testContext(t), sampleRows)
	if err := first.Err(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	want := map[string]Counts{
		StageInfluencers: {Inserted: 2, Skipped: 3},
		StageContent:     {Inserted: 3, Skipped: 2},
		StageComments:    {Inserted: 2, Skipped: 1},
	}
	for name, c := range want {
		sr, ok := first.Stage(name)
		if !ok {
			t.Fatalf("missing stage %s", name)
		}
		if sr.Counts != c {
			t.Errorf("stage %s: got %s, want %s", name, sr.Counts, c)
		}
	}
	before := snapshot(t, db)

	second := orch.Run(testContext(t), sampleRows)
	if err := second.Err(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tot := second.Totals(); tot.Inserted != 0 || tot.Skipped != first.Totals().Total() {
		t.Errorf("second run should only skip, got %s", tot)
	}
	if len(second.Schema.Changes) != 0 {
		t.Errorf("second run changed the schema: %+v", second.Schema.Changes)
	}
	if after := snapshot(t, db); after != before {
		t.Errorf("state changed on re-run:\nbefore:\n%s\nafter:\n%s", before, after)
	}
}

func TestReferentialIntegrityAndUniqueness(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	orch := NewOrchestrator(db, cfg, nil)
	orch.Run(testContext(t), sampleRows)
	orch.Run(testContext(t), sampleRows)

	checks := map[string]string{
		"content without influencer": `SELECT COUNT(*) FROM content c LEFT JOIN influencers i ON i.id = c.influencer_id WHERE i.id IS NULL`,
		"comment without content":    `SELECT COUNT(*) FROM comments c LEFT JOIN content ct ON ct.id = c.content_id WHERE ct.id IS NULL`,
		"duplicate influencer names": `SELECT COUNT(*) FROM (SELECT name FROM influencers GROUP BY name HAVING COUNT(*) > 1)`,
		"duplicate content urls":     `SELECT COUNT(*) FROM (SELECT url FROM content GROUP BY url HAVING COUNT(*) > 1)`,
		"duplicate comments":         `SELECT COUNT(*) FROM (SELECT content_id, comment_text FROM comments GROUP BY content_id, comment_text HAVING COUNT(*) > 1)`,
	}
	for name, q := range checks {
		if n := count(t, db, q); n != 0 {
			t.Errorf("%s: %d", name, n)
		}
	}
}

func TestCascadeFromInfluencer(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	NewOrchestrator(db, cfg, nil).Run(testContext(t), sampleRows)

	if _, err := db.ExecContext(testContext(t), `INSERT INTO votes (influencer_id, content_id, good_vote) SELECT influencer_id, id, 1 FROM content`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(testContext(t), `DELETE FROM influencers WHERE name = 'Alice'`); err != nil {
		t.Fatal(err)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM content`); n != 1 {
		t.Errorf("expected only Bob's content left, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM comments`); n != 0 {
		t.Errorf("expected Alice's comments gone, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM votes`); n != 1 {
		t.Errorf("expected one vote left, got %d", n)
	}
}

func TestOrphanContentRejectedOnEveryRun(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)

	// An influencer stage that never writes leaves every content row orphaned.
	noop := Stage{Name: StageInfluencers, Apply: func(*Engine, context.Context, dataset.Row) (Outcome, error) { return Skipped, nil }}
	p, err := NewPipeline(noop, ContentStage, CommentStage)
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	orch := NewOrchestrator(db, cfg, newTestLogger(&logs))
	orch.Pipeline = p

	for run := 1; run <= 3; run++ {
		rep := orch.Run(testContext(t), sampleRows)
		content, _ := rep.Stage(StageContent)
		if content.Rejected != len(sampleRows) || content.Inserted != 0 {
			t.Errorf("run %d: content %s", run, content.Counts)
		}
		comments, _ := rep.Stage(StageComments)
		if comments.Rejected != 3 || comments.Inserted != 0 {
			t.Errorf("run %d: comments %s", run, comments.Counts)
		}
	}
	if n := count(t, db, `SELECT COUNT(*) FROM content`); n != 0 {
		t.Errorf("orphan content inserted: %d", n)
	}
	if !strings.Contains(logs.String(), `content rejected (influencer not found): name="Alice"`) {
		t.Errorf("expected rejection warning in logs, got:\n%s", logs.String())
	}
}

func TestEngineRejectsMissingParent(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	if err := vibedb.EnsureSchema(testContext(t), db, nil).Err(); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(db, cfg, nil)
	row := dataset.Row{Name: "Ghost", Title: "T9", URL: "http://x/9", Comment: "boo"}

	if out, err := e.UpsertContent(testContext(t), row); err != nil || out != Rejected {
		t.Errorf("content: got %s, %v", out, err)
	}
	if out, err := e.UpsertComment(testContext(t), row); err != nil || out != Rejected {
		t.Errorf("comment: got %s, %v", out, err)
	}
	if out, _ := e.UpsertInfluencer(testContext(t), row); out != Inserted {
		t.Errorf("influencer: got %s", out)
	}
	if out, _ := e.UpsertContent(testContext(t), row); out != Inserted {
		t.Errorf("content after parent exists: got %s", out)
	}
	if out, _ := e.UpsertComment(testContext(t), row); out != Inserted {
		t.Errorf("comment after parent exists: got %s", out)
	}
}

func TestCommentBridge(t *testing.T) {
	rows := []dataset.Row{
		{Name: "Alice", Title: "Weekly vlog", URL: "http://x/a", Comment: "first"},
		{Name: "Bob", Title: "Weekly vlog", URL: "http://x/b", Comment: "second"},
	}
	commentsOn := func(t *testing.T, db *vibedb.DB, url string) int {
		return count(t, db, `SELECT COUNT(*) FROM comments c JOIN content ct ON ct.id = c.content_id WHERE ct.url = ?`, url)
	}

	t.Run("URL", func(t *testing.T) {
		cfg := testConfig(t)
		db := openDB(t, cfg)
		NewOrchestrator(db, cfg, nil).Run(testContext(t), rows)
		if commentsOn(t, db, "http://x/a") != 1 || commentsOn(t, db, "http://x/b") != 1 {
			t.Error("expected each comment on its own content item")
		}
	})

	t.Run("Title", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.CommentBridge = config.BridgeTitle
		db := openDB(t, cfg)
		NewOrchestrator(db, cfg, nil).Run(testContext(t), rows)
		// Colliding titles resolve to the first content item.
		if commentsOn(t, db, "http://x/a") != 2 || commentsOn(t, db, "http://x/b") != 0 {
			t.Error("expected title bridging to attach both comments to the lowest id")
		}
	})
}

func TestPipelineOrdering(t *testing.T) {
	if _, err := NewPipeline(ContentStage, InfluencerStage, CommentStage); !errors.Is(err, ErrStageOrder) {
		t.Errorf("expected ErrStageOrder, got %v", err)
	}
	if _, err := NewPipeline(InfluencerStage, CommentStage); !errors.Is(err, ErrStageOrder) {
		t.Errorf("expected ErrStageOrder for missing content stage, got %v", err)
	}
	if _, err := NewPipeline(InfluencerStage, InfluencerStage); err == nil {
		t.Error("expected duplicate stage error")
	}
	got := strings.Join(DefaultPipeline().Names(), ",")
	if got != "influencers,content,comments" {
		t.Errorf("unexpected default order %s", got)
	}
}

func TestStageFailureDoesNotStopLaterStages(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)

	calls := 0
	broken := Stage{Name: StageInfluencers, Apply: func(*Engine, context.Context, dataset.Row) (Outcome, error) {
		calls++
		return Failed, driver.ErrBadConn
	}}
	p, err := NewPipeline(broken, ContentStage, CommentStage)
	if err != nil {
		t.Fatal(err)
	}
	orch := NewOrchestrator(db, cfg, nil)
	orch.Pipeline = p
	rep := orch.Run(testContext(t), sampleRows)

	if calls != 1 {
		t.Errorf("expected the broken stage to stop after one row, got %d calls", calls)
	}
	inf, _ := rep.Stage(StageInfluencers)
	if !errors.Is(inf.Err, driver.ErrBadConn) || inf.Failed != 1 {
		t.Errorf("unexpected influencer stage report: %+v", inf)
	}
	content, ok := rep.Stage(StageContent)
	if !ok || content.Total() != len(sampleRows) {
		t.Errorf("content stage should still process every row: %+v", content)
	}
	if !errors.Is(rep.Err(), driver.ErrBadConn) {
		t.Errorf("report error should carry the stage failure, got %v", rep.Err())
	}
}

func TestCanceledContextStopsStages(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	if err := vibedb.EnsureSchema(testContext(t), db, nil).Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	rep := NewOrchestrator(db, cfg, nil).Run(ctx, sampleRows)
	for _, s := range rep.Stages {
		if !errors.Is(s.Err, context.Canceled) || s.Total() != 0 {
			t.Errorf("stage %s: expected cancellation before any row, got %+v", s.Name, s)
		}
	}
}

func TestRun(t *testing.T) {
	csv := "Name,Title,URL,comment\n" +
		"Alice,T1,http://x/1,nice!\n" +
		"Alice,T1,http://x/1,love it\n" +
		"Bob,T2,http://x/2,\n" +
		",T4,http://x/4,dropped\n"

	setup := func(t *testing.T) (config.AppConfig, string) {
		cfg := testConfig(t)
		path := filepath.Join(t.TempDir(), "data.csv")
		if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg.DatasetPath = path
		return cfg, path
	}
	loader := func(cfg config.AppConfig) config.ConfigLoad {
		return func() (config.AppConfig, error) { return cfg, nil }
	}

	t.Run("FromConfiguredDataset", func(t *testing.T) {
		cfg, _ := setup(t)
		var out bytes.Buffer
		rep, err := Run(testContext(t), Options{Output: &out}, loader(cfg))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := rep.Totals().Inserted; got != 6 {
			t.Errorf("expected 6 inserts (2 influencers, 2 content, 2 comments), got %d", got)
		}
		for _, want := range []string{"[vibecheck] ", "database created", "dataset loaded", "dropped=1", "ingest completed"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("log output missing %q:\n%s", want, out.String())
			}
		}

		rep, err = Run(testContext(t), Options{Output: &out}, loader(cfg))
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if got := rep.Totals().Inserted; got != 0 {
			t.Errorf("second run inserted %d rows", got)
		}
	})

	t.Run("RowsOverrideDataset", func(t *testing.T) {
		cfg, _ := setup(t)
		rows := []dataset.Row{{Name: "Carol", Title: "T5", URL: "http://x/5"}}
		rep, err := Run(testContext(t), Options{Rows: rows, Output: &bytes.Buffer{}}, loader(cfg))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := rep.Totals().Inserted; got != 2 {
			t.Errorf("expected influencer and content only, got %d", got)
		}
	})

	t.Run("LogFile", func(t *testing.T) {
		cfg, _ := setup(t)
		logPath := filepath.Join(t.TempDir(), "logs", "ingest.log")
		var out bytes.Buffer
		if _, err := Run(testContext(t), Options{LogFile: logPath, Output: &out}, loader(cfg)); err != nil {
			t.Fatalf("run: %v", err)
		}
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if !strings.Contains(string(data), "influencer added: name=\"Alice\"") {
			t.Errorf("log file missing insert line:\n%s", data)
		}
		if out.Len() != 0 {
			t.Errorf("expected nothing on output when logging to a file, got %q", out.String())
		}
	})

	t.Run("SchemaOnly", func(t *testing.T) {
		cfg, _ := setup(t)
		rep, err := Run(testContext(t), Options{SchemaOnly: true, Output: &bytes.Buffer{}}, loader(cfg))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(rep.Stages) != 0 {
			t.Errorf("schema-only run executed stages: %+v", rep.Stages)
		}
		if len(rep.Schema.Changes) == 0 {
			t.Error("expected the schema to be created")
		}
	})

	t.Run("MissingDataset", func(t *testing.T) {
		cfg, _ := setup(t)
		cfg.DatasetPath = filepath.Join(t.TempDir(), "absent.csv")
		if _, err := Run(testContext(t), Options{Output: &bytes.Buffer{}}, loader(cfg)); err == nil {
			t.Fatal("expected an error for a missing dataset")
		}
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		cfg, _ := setup(t)
		cfg.Database.Driver = "oracle"
		_, err := Run(testContext(t), Options{Output: &bytes.Buffer{}}, loader(cfg))
		if !errors.Is(err, vibedb.ErrUnsupportedDriver) {
			t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
		}
	})

	t.Run("LoaderError", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Run(testContext(t), Options{}, func() (config.AppConfig, error) { return config.AppConfig{}, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected loader error, got %v", err)
		}
	})
}
