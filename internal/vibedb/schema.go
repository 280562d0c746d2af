package vibedb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Column is a non-key column of a table. Type and Default are plain SQL that
// both dialects accept.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	Default string
}

// ForeignKey references the id of RefTable and always cascades on delete.
type ForeignKey struct {
	Column   string
	RefTable string
}

type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// RetiredColumn is dropped from deployed schemas when present.
type RetiredColumn struct {
	Table  string
	Column string
}

// Tables is the target schema, parents before children.
var Tables = []Table{
	{
		Name: "influencers",
		Columns: []Column{
			{Name: "name", Type: "VARCHAR(255)", NotNull: true},
			{Name: "vibe_score", Type: "DECIMAL(5, 2)", Default: "0.00"},
			{Name: "image_url", Type: "TEXT"},
		},
	},
	{
		Name: "content",
		Columns: []Column{
			{Name: "influencer_id", Type: "INTEGER"},
			{Name: "platform", Type: "VARCHAR(50)"},
			{Name: "url", Type: "TEXT", NotNull: true},
			{Name: "title", Type: "VARCHAR(255)"},
			{Name: "sentiment_score", Type: "DECIMAL(5, 2)"},
		},
		ForeignKeys: []ForeignKey{{Column: "influencer_id", RefTable: "influencers"}},
	},
	{
		Name: "comments",
		Columns: []Column{
			{Name: "content_id", Type: "INTEGER"},
			{Name: "comment_text", Type: "TEXT", NotNull: true},
			{Name: "sentiment_score", Type: "DECIMAL(5, 2)"},
		},
		ForeignKeys: []ForeignKey{{Column: "content_id", RefTable: "content"}},
	},
	{
		Name: "votes",
		Columns: []Column{
			{Name: "influencer_id", Type: "INTEGER"},
			{Name: "content_id", Type: "INTEGER"},
			{Name: "good_vote", Type: "INTEGER", Default: "0"},
			{Name: "bad_vote", Type: "INTEGER", Default: "0"},
		},
		ForeignKeys: []ForeignKey{
			{Column: "influencer_id", RefTable: "influencers"},
			{Column: "content_id", RefTable: "content"},
		},
	},
}

// Retired lists columns superseded by newer ones: the single vote column gave
// way to good_vote/bad_vote.
var Retired = []RetiredColumn{
	{Table: "votes", Column: "vote"},
}

// Indexes back the natural keys the resolver deduplicates on.
var Indexes = []Index{
	{Name: "ux_influencers_name", Table: "influencers", Columns: []string{"name"}, Unique: true},
	{Name: "ux_content_url", Table: "content", Columns: []string{"url"}, Unique: true},
	{Name: "ux_comments_content_text", Table: "comments", Columns: []string{"content_id", "comment_text"}, Unique: true},
	{Name: "idx_content_title", Table: "content", Columns: []string{"title"}},
	{Name: "idx_content_influencer", Table: "content", Columns: []string{"influencer_id"}},
	{Name: "idx_votes_content", Table: "votes", Columns: []string{"content_id"}},
}

type ChangeKind string

const (
	CreatedTable  ChangeKind = "create_table"
	AddedColumn   ChangeKind = "add_column"
	DroppedColumn ChangeKind = "drop_column"
	CreatedIndex  ChangeKind = "create_index"
)

// Change is one DDL statement that altered the schema.
type Change struct {
	Kind      ChangeKind
	Table     string
	Column    string
	Statement string
}

// Destructive reports whether the change removed data.
func (c Change) Destructive() bool { return c.Kind == DroppedColumn }

// Failure is a DDL step that could not be applied.
type Failure struct {
	Table     string
	Column    string
	Statement string
	Err       error
}

func (f Failure) Error() string {
	target := f.Table
	if f.Column != "" {
		target += "." + f.Column
	}
	return fmt.Sprintf("%s: %v", target, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

type SchemaReport struct {
	Changes  []Change
	Failures []Failure
}

// Err joins every failed step, or returns nil when all steps succeeded.
func (r SchemaReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// SchemaManager converges a live database to Tables, Retired and Indexes.
// DDL is applied statement by statement and never rolled back: a failing step
// is recorded and the remaining steps still run.
type SchemaManager struct {
	DB      *DB
	Logger  *log.Logger
	Tables  []Table
	Retired []RetiredColumn
	Indexes []Index
}

func NewSchemaManager(db *DB, logger *log.Logger) *SchemaManager {
	return &SchemaManager{DB: db, Logger: logger, Tables: Tables, Retired: Retired, Indexes: Indexes}
}

// EnsureSchema applies the default schema with a fresh manager.
func EnsureSchema(ctx context.Context, db *DB, logger *log.Logger) SchemaReport {
	return NewSchemaManager(db, logger).Ensure(ctx)
}

func (m *SchemaManager) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// Ensure is safe to call any number of times; a call on an already converged
// schema issues no DDL.
func (m *SchemaManager) Ensure(ctx context.Context) SchemaReport {
	var rep SchemaReport
	apply := func(c Change) {
		if _, err := m.DB.ExecContext(ctx, c.Statement); err != nil {
			m.logf("schema step failed: table=%s column=%s err=%v", c.Table, c.Column, err)
			rep.Failures = append(rep.Failures, Failure{Table: c.Table, Column: c.Column, Statement: c.Statement, Err: err})
			return
		}
		switch c.Kind {
		case DroppedColumn:
			m.logf("schema: DROPPED retired column %s.%s (irreversible)", c.Table, c.Column)
		case AddedColumn:
			m.logf("schema: added column %s.%s", c.Table, c.Column)
		default:
			m.logf("schema: %s %s", c.Kind, c.Table)
		}
		rep.Changes = append(rep.Changes, c)
	}
	fail := func(table, column string, err error) {
		m.logf("schema introspection failed: table=%s column=%s err=%v", table, column, err)
		rep.Failures = append(rep.Failures, Failure{Table: table, Column: column, Err: err})
	}

	for _, t := range m.Tables {
		exists, err := m.tableExists(ctx, t.Name)
		if err != nil {
			fail(t.Name, "", err)
			continue
		}
		if !exists {
			apply(Change{Kind: CreatedTable, Table: t.Name, Statement: m.createTableSQL(t)})
		}
	}

	for _, t := range m.Tables {
		cols, err := m.columns(ctx, t.Name)
		if err != nil {
			fail(t.Name, "", err)
			continue
		}
		for _, c := range t.Columns {
			if _, ok := cols[c.Name]; ok || !evolvable(t, c) {
				continue
			}
			apply(Change{
				Kind:      AddedColumn,
				Table:     t.Name,
				Column:    c.Name,
				Statement: addColumnSQL(t.Name, c),
			})
		}
	}

	for _, r := range m.Retired {
		cols, err := m.columns(ctx, r.Table)
		if err != nil {
			fail(r.Table, r.Column, err)
			continue
		}
		if _, ok := cols[r.Column]; !ok {
			continue
		}
		apply(Change{
			Kind:      DroppedColumn,
			Table:     r.Table,
			Column:    r.Column,
			Statement: dropColumnSQL(r),
		})
	}

	for _, ix := range m.Indexes {
		exists, err := m.indexExists(ctx, ix.Name)
		if err != nil {
			fail(ix.Table, "", err)
			continue
		}
		if exists {
			continue
		}
		apply(Change{
			Kind:      CreatedIndex,
			Table:     ix.Table,
			Column:    strings.Join(ix.Columns, ","),
			Statement: createIndexSQL(ix),
		})
	}
	return rep
}

// evolvable columns can be added to a deployed table: they are nullable or
// carry a default, and are not foreign keys (those only come with the table).
func evolvable(t Table, c Column) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == c.Name {
			return false
		}
	}
	return !c.NotNull || c.Default != ""
}

func columnSQL(c Column) string {
	s := c.Name + " " + c.Type
	if c.NotNull {
		s += " NOT NULL"
	}
	if c.Default != "" {
		s += " DEFAULT " + c.Default
	}
	return s
}

func addColumnSQL(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnSQL(c))
}

func dropColumnSQL(r RetiredColumn) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", r.Table, r.Column)
}

func createIndexSQL(ix Index) string {
	kw := "INDEX"
	if ix.Unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kw, ix.Name, ix.Table, strings.Join(ix.Columns, ", "))
}

func (m *SchemaManager) createTableSQL(t Table) string {
	id := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if m.DB.Dialect == Postgres {
		id = "id SERIAL PRIMARY KEY"
	}
	parts := []string{id}
	for _, c := range t.Columns {
		parts = append(parts, columnSQL(c))
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id) ON DELETE CASCADE", fk.Column, fk.RefTable))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", t.Name, strings.Join(parts, ",\n    "))
}

func tableExistsSQL(d Dialect) string {
	if d == Postgres {
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	}
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func indexExistsSQL(d Dialect) string {
	if d == Postgres {
		return `SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?`
	}
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`
}

func columnsSQL(d Dialect) string {
	if d == Postgres {
		return `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`
	}
	return `SELECT name FROM pragma_table_info(?)`
}

func (m *SchemaManager) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := m.DB.queryRow(ctx, tableExistsSQL(m.DB.Dialect), name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *SchemaManager) indexExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := m.DB.queryRow(ctx, indexExistsSQL(m.DB.Dialect), name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// columns introspects the live column set of table.
func (m *SchemaManager) columns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := m.DB.QueryContext(ctx, m.DB.rebind(columnsSQL(m.DB.Dialect)), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return out, nil
}
