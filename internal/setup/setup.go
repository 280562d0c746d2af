// Package setup runs the interactive first-time configuration: it writes the
// config file, creates the database and schema, and on macOS installs the
// launchd agent that scrapes and ingests on a schedule.
package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"vibecheck/internal/config"
	"vibecheck/internal/ingest"
	"vibecheck/internal/launchd"
)

var ErrCancelled = errors.New("setup cancelled")

// Run executes the setup flow against the config file at cfgPath (the default
// location when empty).
func Run(ctx context.Context, cfgPath string) error {
	if strings.TrimSpace(cfgPath) == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	exists := fileExists(cfgPath)
	base, err := config.LoadAppConfigFrom(cfgPath)
	if err != nil {
		fmt.Printf("Existing config could not be read (%v), starting from defaults.\n", err)
		base = config.Defaults()
	}

	res, err := tea.NewProgram(newWizardModel(base, exists), tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	wm, ok := res.(*wizardModel)
	if !ok || wm.cancelled {
		return ErrCancelled
	}

	if wm.override {
		if exists {
			_ = config.BackupFile(cfgPath)
		}
		if err := config.WriteConfig(cfgPath, wm.cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("\nConfig written to %s\n", cfgPath)
	}

	fmt.Println("Creating the database and schema…")
	rep, err := ingest.Run(ctx, ingest.Options{SchemaOnly: true, Output: os.Stdout}, config.FileLoader(cfgPath))
	if err != nil {
		fmt.Printf("database setup failed: %v\n", err)
	} else if err := rep.Err(); err != nil {
		fmt.Printf("schema setup incomplete: %v\n", err)
	}

	if runtime.GOOS == "darwin" {
		fmt.Println("\nInstalling launchd agent to run on a schedule…")
		exe, _ := os.Executable()
		opt := launchd.InstallOptions{
			Label:           wm.cfg.Schedule.Label,
			IntervalMinutes: wm.cfg.Schedule.IntervalMinutes,
			ProgramPath:     exe,
			ProgramArgs:     []string{"run", "--config", cfgPath},
			StdOutPath:      wm.cfg.LogFile,
		}
		if path, err := launchd.Install(opt); err != nil {
			fmt.Printf("launchd install failed: %v\n", err)
		} else {
			fmt.Printf("launchd agent installed: %s\n", path)
		}
	} else {
		fmt.Printf("\nNote: automatic scheduling is only implemented for macOS (launchd).\nUse cron or systemd to run 'vibecheck run --config %s' every %d minutes.\n",
			cfgPath, wm.cfg.Schedule.IntervalMinutes)
	}

	fmt.Println("\nSetup complete!")
	return nil
}

type wizardStep int

const (
	stepIntro wizardStep = iota
	stepConfigChoice
	stepDriver
	stepDatabase
	stepDataset
	stepYouTube
	stepFeeds
	stepInterval
	stepSummary
	stepDone
)

type wizardModel struct {
	step      wizardStep
	hasCfg    bool
	override  bool
	cancelled bool

	cfg config.AppConfig

	database *inputGroup
	dataset  *inputGroup
	youtube  *inputGroup
	feeds    *inputGroup
	interval *inputGroup

	errMsg string
}

func newWizardModel(base config.AppConfig, hasCfg bool) *wizardModel {
	csv := newInputField(base.DatasetPath, textinput.EchoNormal)
	csv.setValue(base.DatasetPath)

	apiKey := newInputField("YouTube Data API key (optional, or set YT_API_KEY)", textinput.EchoPassword)
	apiKey.setValue(base.YouTube.APIKey)
	channels := newInputField("UCxxxx, UCyyyy", textinput.EchoNormal)
	channels.setValue(strings.Join(base.YouTube.ChannelIDs, ", "))

	feedList := newInputField("Alice=https://news.example/feed.xml, Bob=https://...", textinput.EchoNormal)
	feedList.setValue(formatFeeds(base.Feeds.Sources))
	match := newInputField("y/N", textinput.EchoNormal)

	interval := newInputField(strconv.Itoa(base.Schedule.IntervalMinutes), textinput.EchoNormal)

	return &wizardModel{
		step:     stepIntro,
		hasCfg:   hasCfg,
		cfg:      base,
		dataset:  newInputGroup(csv).label(0, "Dataset CSV path:"),
		youtube:  newInputGroup(apiKey, channels).label(0, "API key:").label(1, "Channel ids (comma-separated):"),
		feeds:    newInputGroup(feedList, match).label(0, "Feeds as Name=URL, comma-separated:").label(1, "Only keep posts that mention the influencer? [y/N]"),
		interval: newInputGroup(interval).label(0, "Minutes between runs:"),
	}
}

func (m *wizardModel) Init() tea.Cmd { return nil }

// typing reports whether the current step routes keys into a text input.
func (m *wizardModel) typing() bool {
	switch m.step {
	case stepDatabase, stepDataset, stepYouTube, stepFeeds, stepInterval:
		return true
	}
	return false
}

func (m *wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if key.Type == tea.KeyCtrlC || (!m.typing() && key.Type == tea.KeyRunes && strings.ToLower(string(key.Runes)) == "q") {
		m.cancelled = true
		return m, tea.Quit
	}

	switch m.step {
	case stepIntro:
		if key.Type == tea.KeyEnter {
			if m.hasCfg {
				m.step = stepConfigChoice
			} else {
				m.override = true
				m.step = stepDriver
			}
		}
	case stepConfigChoice:
		if key.Type == tea.KeyRunes {
			switch strings.ToLower(string(key.Runes)) {
			case "o":
				m.override = true
				m.step = stepDriver
			case "k":
				m.override = false
				m.enter(stepInterval)
			}
		}
	case stepDriver:
		if key.Type == tea.KeyRunes {
			switch strings.ToLower(string(key.Runes)) {
			case "s":
				m.cfg.Database.Driver = config.DriverSQLite
				m.database = sqliteGroup(m.cfg.Database)
				m.enter(stepDatabase)
			case "p":
				m.cfg.Database.Driver = config.DriverPostgres
				m.database = postgresGroup(m.cfg.Database)
				m.enter(stepDatabase)
			}
		}
	case stepDatabase:
		return m, m.form(key, m.database, func(v []string) bool {
			if m.cfg.Database.Driver == config.DriverPostgres {
				port, err := parsePositiveInt(v[1])
				if err != nil {
					m.errMsg = "Port must be a positive integer."
					return false
				}
				m.cfg.Database.Host = firstNonEmpty(v[0], m.cfg.Database.Host)
				m.cfg.Database.Port = port
				m.cfg.Database.User = v[2]
				m.cfg.Database.Name = firstNonEmpty(v[3], m.cfg.Database.Name)
			} else if v[0] != "" {
				m.cfg.Database.Path = config.ExpandPath(v[0])
			}
			m.enter(stepDataset)
			return true
		})
	case stepDataset:
		return m, m.form(key, m.dataset, func(v []string) bool {
			m.cfg.DatasetPath = firstNonEmpty(v[0], m.cfg.DatasetPath)
			m.enter(stepYouTube)
			return true
		})
	case stepYouTube:
		return m, m.form(key, m.youtube, func(v []string) bool {
			m.cfg.YouTube.APIKey = v[0]
			m.cfg.YouTube.ChannelIDs = splitCSV(v[1])
			m.enter(stepFeeds)
			return true
		})
	case stepFeeds:
		return m, m.form(key, m.feeds, func(v []string) bool {
			sources, err := parseFeeds(v[0], strings.HasPrefix(strings.ToLower(v[1]), "y"))
			if err != nil {
				m.errMsg = err.Error()
				return false
			}
			m.cfg.Feeds.Sources = sources
			m.enter(stepInterval)
			return true
		})
	case stepInterval:
		return m, m.form(key, m.interval, func(v []string) bool {
			if v[0] != "" {
				n, err := parsePositiveInt(v[0])
				if err != nil {
					m.errMsg = "Please enter a positive integer (minutes)."
					return false
				}
				m.cfg.Schedule.IntervalMinutes = n
			}
			m.errMsg = ""
			m.step = stepSummary
			return true
		})
	case stepSummary:
		if key.Type == tea.KeyEnter {
			m.step = stepDone
			return m, tea.Quit
		}
	}
	return m, nil
}

// form feeds a key to a group. On Enter in the last field done receives the
// values; it returns false to keep the user on the step.
func (m *wizardModel) form(key tea.KeyMsg, g *inputGroup, done func([]string) bool) tea.Cmd {
	if key.Type == tea.KeyEnter || key.Type == tea.KeyTab {
		if g.next() {
			return nil
		}
		if key.Type == tea.KeyEnter && done(g.values()) {
			m.errMsg = ""
		}
		return nil
	}
	return g.update(key)
}

func (m *wizardModel) enter(step wizardStep) {
	m.step = step
	m.errMsg = ""
	if g := m.group(); g != nil {
		g.focusFirst()
	}
}

func (m *wizardModel) group() *inputGroup {
	switch m.step {
	case stepDatabase:
		return m.database
	case stepDataset:
		return m.dataset
	case stepYouTube:
		return m.youtube
	case stepFeeds:
		return m.feeds
	case stepInterval:
		return m.interval
	}
	return nil
}

func (m *wizardModel) View() string {
	b := &strings.Builder{}
	switch m.step {
	case stepIntro:
		fmt.Fprintln(b, "Welcome to vibecheck setup!")
		fmt.Fprintln(b, "This wizard configures the database, the scrape sources and scheduled ingestion.")
		fmt.Fprintln(b, "\nPress Enter to begin · q to quit")
	case stepConfigChoice:
		fmt.Fprintln(b, "Found an existing config.")
		fmt.Fprintln(b, "Override it (a .bak copy is kept) or keep it?")
		fmt.Fprintln(b, "[o] Override    [k] Keep existing")
	case stepDriver:
		fmt.Fprintln(b, "Step 1 – Database")
		fmt.Fprintln(b, "[s] SQLite file    [p] PostgreSQL server")
	case stepDatabase:
		fmt.Fprintf(b, "Step 1 – Database (%s)\n\n", m.cfg.Database.Driver)
		fmt.Fprint(b, m.database.view())
		if m.cfg.Database.Driver == config.DriverPostgres {
			fmt.Fprintln(b, "\nThe password is read from DB_PASS.")
		}
	case stepDataset:
		fmt.Fprintln(b, "Step 2 – Dataset")
		fmt.Fprint(b, m.dataset.view())
	case stepYouTube:
		fmt.Fprintln(b, "Step 3 – YouTube channels (optional)")
		fmt.Fprint(b, m.youtube.view())
	case stepFeeds:
		fmt.Fprintln(b, "Step 4 – News feeds (optional)")
		fmt.Fprint(b, m.feeds.view())
	case stepInterval:
		fmt.Fprintln(b, "Step 5 – Schedule")
		fmt.Fprint(b, m.interval.view())
	case stepSummary:
		fmt.Fprintln(b, "Summary")
		if m.cfg.Database.Driver == config.DriverPostgres {
			fmt.Fprintf(b, "Database: postgres %s@%s:%d/%s\n", m.cfg.Database.User, m.cfg.Database.Host, m.cfg.Database.Port, m.cfg.Database.Name)
		} else {
			fmt.Fprintf(b, "Database: sqlite %s\n", m.cfg.Database.Path)
		}
		fmt.Fprintf(b, "Dataset: %s\n", m.cfg.DatasetPath)
		fmt.Fprintf(b, "YouTube channels: %d\n", len(m.cfg.YouTube.ChannelIDs))
		for _, s := range m.cfg.Feeds.Sources {
			fmt.Fprintf(b, "  - %s: %s\n", s.Name, s.URL)
		}
		fmt.Fprintf(b, "Interval: %d minutes\n", m.cfg.Schedule.IntervalMinutes)
		if !m.override {
			fmt.Fprintln(b, "\nKeeping existing config. Only the schedule will be installed/updated.")
		}
		fmt.Fprintln(b, "\nPress Enter to finish · q to cancel")
	case stepDone:
		fmt.Fprintln(b, "Finishing…")
	}
	if m.typing() {
		fmt.Fprintln(b, "\nEnter/Tab next field · Ctrl+C to quit")
	}
	if m.errMsg != "" {
		fmt.Fprintf(b, "\n%s\n", m.errMsg)
	}
	return b.String()
}

func sqliteGroup(db config.DatabaseConfig) *inputGroup {
	path := newInputField(db.Path, textinput.EchoNormal)
	path.setValue(db.Path)
	return newInputGroup(path).label(0, "Database file:")
}

func postgresGroup(db config.DatabaseConfig) *inputGroup {
	fields := []*inputField{
		newInputField("localhost", textinput.EchoNormal),
		newInputField("5432", textinput.EchoNormal),
		newInputField("user", textinput.EchoNormal),
		newInputField("vibecheck", textinput.EchoNormal),
	}
	fields[0].setValue(db.Host)
	fields[1].setValue(strconv.Itoa(db.Port))
	fields[2].setValue(db.User)
	fields[3].setValue(db.Name)
	return newInputGroup(fields...).label(0, "Host:").label(1, "Port:").label(2, "User:").label(3, "Database name:")
}

// parseFeeds reads "Name=URL" pairs separated by commas.
func parseFeeds(s string, matchName bool) ([]config.FeedSource, error) {
	var out []config.FeedSource
	for _, part := range splitCSV(s) {
		name, url, ok := strings.Cut(part, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("feed %q is not in Name=URL form", part)
		}
		out = append(out, config.FeedSource{Name: name, URL: url, MatchName: matchName})
	}
	return out, nil
}

func formatFeeds(sources []config.FeedSource) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, s.Name+"="+s.URL)
	}
	return strings.Join(parts, ", ")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, errors.New("invalid int")
	}
	return n, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
