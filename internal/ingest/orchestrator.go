package ingest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/vibedb"
)

type Counts struct {
	Inserted int
	Skipped  int
	Rejected int
	Failed   int
}

func (c *Counts) add(o Outcome) {
	switch o {
	case Inserted:
		c.Inserted++
	case Skipped:
		c.Skipped++
	case Rejected:
		c.Rejected++
	case Failed:
		c.Failed++
	}
}

func (c Counts) Total() int {
	return c.Inserted + c.Skipped + c.Rejected + c.Failed
}

func (c Counts) String() string {
	return fmt.Sprintf("inserted=%d skipped=%d rejected=%d failed=%d", c.Inserted, c.Skipped, c.Rejected, c.Failed)
}

// StageReport is the result of one stage. Err is set when the stage stopped
// before reaching the end of the batch.
type StageReport struct {
	Name string
	Counts
	Err error
}

type Report struct {
	Schema vibedb.SchemaReport
	Stages []StageReport
}

// Totals sums the counts of every stage.
func (r Report) Totals() Counts {
	var t Counts
	for _, s := range r.Stages {
		t.Inserted += s.Inserted
		t.Skipped += s.Skipped
		t.Rejected += s.Rejected
		t.Failed += s.Failed
	}
	return t
}

func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Err joins schema failures and aborted stages. Row-level rejections and
// failures are counted, not reported here.
func (r Report) Err() error {
	errs := []error{r.Schema.Err()}
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Orchestrator ensures the schema and then runs the pipeline over one batch.
// It is the only caller of the upsert stages, which fixes their order.
type Orchestrator struct {
	DB       *vibedb.DB
	Config   config.AppConfig
	Logger   *log.Logger
	Pipeline *Pipeline
}

func NewOrchestrator(db *vibedb.DB, cfg config.AppConfig, logger *log.Logger) *Orchestrator {
	return &Orchestrator{DB: db, Config: cfg, Logger: logger, Pipeline: DefaultPipeline()}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Run applies the schema once and then every stage in order over the same
// batch. A stage that stops early is recorded and the next stage still runs.
func (o *Orchestrator) Run(ctx context.Context, rows []dataset.Row) Report {
	batch := append([]dataset.Row(nil), rows...)
	var rep Report

	rep.Schema = vibedb.NewSchemaManager(o.DB, o.Logger).Ensure(ctx)
	if err := rep.Schema.Err(); err != nil {
		o.logf("schema: %d step(s) failed, continuing: %v", len(rep.Schema.Failures), err)
	}

	pipeline := o.Pipeline
	if pipeline == nil {
		pipeline = DefaultPipeline()
	}
	engine := NewEngine(o.DB, o.Config, o.Logger)
	for _, st := range pipeline.Stages() {
		sr := o.runStage(ctx, engine, st, batch)
		if sr.Err != nil {
			o.logf("stage %s stopped: %v", st.Name, sr.Err)
		}
		o.logf("stage %s done: %s", st.Name, sr.Counts)
		rep.Stages = append(rep.Stages, sr)
	}
	return rep
}

func (o *Orchestrator) runStage(ctx context.Context, e *Engine, st Stage, batch []dataset.Row) StageReport {
	sr := StageReport{Name: st.Name}
	for _, row := range batch {
		if err := ctx.Err(); err != nil {
			sr.Err = err
			return sr
		}
		if st.Accept != nil && !st.Accept(row) {
			continue
		}
		out, err := st.Apply(e, ctx, row)
		sr.add(out)
		// A dead connection fails every remaining row the same way.
		if err != nil && connectionLost(err) {
			sr.Err = err
			return sr
		}
	}
	return sr
}

func connectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
