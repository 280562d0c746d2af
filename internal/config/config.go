package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigLoad returns the application configuration. Commands receive one so
// tests can inject a config without touching the user's home directory.
type ConfigLoad func() (AppConfig, error)

func AppConfigLoader() ConfigLoad {
	return LoadAppConfig
}

// FileLoader loads configuration from an explicit path instead of the default one.
func FileLoader(path string) ConfigLoad {
	if strings.TrimSpace(path) == "" {
		return LoadAppConfig
	}
	return func() (AppConfig, error) {
		return LoadAppConfigFrom(ExpandPath(path))
	}
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BridgeURL   = "url"
	BridgeTitle = "title"

	DefaultCommentedPlatform = "YouTube"
	DefaultFallbackPlatform  = "TMZ"

	DefaultScheduleLabel = "com.vibecheck.ingest"
)

// DatabaseConfig holds the connection parameters of the target store.
type DatabaseConfig struct {
	Driver string
	// sqlite
	Path string
	// postgres
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaintenanceDB string
}

// PlatformConfig names the platform tags assigned by platform inference.
type PlatformConfig struct {
	Commented string
	Fallback  string
}

// FeedSource ties a news feed to the influencer its items are about.
type FeedSource struct {
	Name      string
	URL       string
	MatchName bool
}

type YouTubeConfig struct {
	APIKey      string
	BaseURL     string
	ChannelIDs  []string
	MaxComments int
	TimeoutSec  int
}

type FeedsConfig struct {
	Sources         []FeedSource
	TimeoutSec      int
	MaxPostsPerFeed int
}

// ScheduleConfig drives the macOS launchd agent that runs scrape and ingest
// periodically.
type ScheduleConfig struct {
	IntervalMinutes int
	Label           string
}

// AppConfig carries every setting the commands need. It is passed explicitly
// to the ingestion orchestrator; nothing reads configuration from globals.
type AppConfig struct {
	Database DatabaseConfig

	DatasetPath   string
	CommentBridge string
	Platforms     PlatformConfig

	YouTube  YouTubeConfig
	Feeds    FeedsConfig
	Schedule ScheduleConfig

	LogFile string
}

// Defaults returns the configuration used when no file is present.
func Defaults() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:        DriverSQLite,
			Path:          FallbackDBPath(),
			Host:          "localhost",
			Port:          5432,
			Name:          "vibecheck",
			SSLMode:       "disable",
			MaintenanceDB: "postgres",
		},
		DatasetPath:   filepath.Join("scraping", "celebrity_scraped.csv"),
		CommentBridge: BridgeURL,
		Platforms: PlatformConfig{
			Commented: DefaultCommentedPlatform,
			Fallback:  DefaultFallbackPlatform,
		},
		YouTube: YouTubeConfig{
			BaseURL:     "https://www.googleapis.com/youtube/v3",
			MaxComments: 10,
			TimeoutSec:  20,
		},
		Feeds: FeedsConfig{
			TimeoutSec:      30,
			MaxPostsPerFeed: 100,
		},
		Schedule: ScheduleConfig{
			IntervalMinutes: 60,
			Label:           DefaultScheduleLabel,
		},
	}
}

func FallbackDBPath() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Vibecheck", "vibecheck.db")
	}

	return "vibecheck.db"
}

func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vibecheck", "config.yaml"), nil
}

// LoadAppConfig parses ~/.config/vibecheck/config.yaml. A missing file yields
// the defaults; environment overrides are applied in both cases.
func LoadAppConfig() (AppConfig, error) {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		ac := Defaults()
		applyEnv(&ac)
		return ac, nil
	}
	return LoadAppConfigFrom(cfgPath)
}

// LoadAppConfigFrom parses the config file at path. Only a malformed file is an
// error; an absent one falls back to defaults.
func LoadAppConfigFrom(path string) (AppConfig, error) {
	ac := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&ac)
			return ac, nil
		}
		return ac, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return ac, fmt.Errorf("parse config %s: %w", path, err)
	}
	apply(&ac, raw)
	applyEnv(&ac)
	return ac, nil
}

func apply(ac *AppConfig, raw map[string]any) {
	if db, ok := raw["database"].(map[string]any); ok {
		if v := str(db["driver"]); v != "" {
			ac.Database.Driver = strings.ToLower(v)
		}
		if v := str(db["path"]); v != "" {
			ac.Database.Path = ExpandPath(v)
		}
		if v := str(db["host"]); v != "" {
			ac.Database.Host = v
		}
		if v := num(db["port"]); v > 0 {
			ac.Database.Port = v
		}
		if v := str(db["user"]); v != "" {
			ac.Database.User = v
		}
		if v := str(db["password"]); v != "" {
			ac.Database.Password = v
		}
		if v := str(db["name"]); v != "" {
			ac.Database.Name = v
		}
		if v := str(db["sslmode"]); v != "" {
			ac.Database.SSLMode = v
		}
		if v := str(db["maintenance_db"]); v != "" {
			ac.Database.MaintenanceDB = v
		}
	}
	// flat form: database_path
	if v := str(raw["database_path"]); v != "" {
		ac.Database.Path = ExpandPath(v)
	}

	if in, ok := raw["ingest"].(map[string]any); ok {
		if v := str(in["csv"]); v != "" {
			ac.DatasetPath = ExpandPath(v)
		}
		if v := strings.ToLower(str(in["comment_bridge"])); v == BridgeURL || v == BridgeTitle {
			ac.CommentBridge = v
		}
		if p, ok := in["platforms"].(map[string]any); ok {
			if v := str(p["commented"]); v != "" {
				ac.Platforms.Commented = v
			}
			if v := str(p["fallback"]); v != "" {
				ac.Platforms.Fallback = v
			}
		}
	}

	if yt, ok := raw["youtube"].(map[string]any); ok {
		if v := str(yt["api_key"]); v != "" {
			ac.YouTube.APIKey = v
		}
		if v := str(yt["base_url"]); v != "" {
			ac.YouTube.BaseURL = v
		}
		if ids, ok := yt["channel_ids"].([]any); ok {
			for _, it := range ids {
				if s := str(it); s != "" {
					ac.YouTube.ChannelIDs = append(ac.YouTube.ChannelIDs, s)
				}
			}
		}
		if v := num(yt["max_comments"]); v > 0 {
			ac.YouTube.MaxComments = v
		}
		if v := num(yt["timeout"]); v > 0 {
			ac.YouTube.TimeoutSec = v
		}
	}

	if feeds, ok := raw["feeds"].(map[string]any); ok {
		if list, ok := feeds["sources"].([]any); ok {
			for _, it := range list {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				src := FeedSource{Name: str(m["name"]), URL: str(m["url"])}
				if v, ok := m["match_name"].(bool); ok {
					src.MatchName = v
				}
				if src.Name != "" && src.URL != "" {
					ac.Feeds.Sources = append(ac.Feeds.Sources, src)
				}
			}
		}
		if v := num(feeds["timeout"]); v > 0 {
			ac.Feeds.TimeoutSec = v
		}
		if v := num(feeds["max_posts_per_feed"]); v > 0 {
			ac.Feeds.MaxPostsPerFeed = v
		}
	}

	if sc, ok := raw["schedule"].(map[string]any); ok {
		if v := num(sc["interval_minutes"]); v > 0 {
			ac.Schedule.IntervalMinutes = v
		}
		if v := str(sc["label"]); v != "" {
			ac.Schedule.Label = v
		}
	}

	if v := str(raw["log_file"]); v != "" {
		ac.LogFile = ExpandPath(v)
	}
}

// applyEnv honours the variables of the .env file the scrapers historically used.
func applyEnv(ac *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("DB_DRIVER")); v != "" {
		ac.Database.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DB_HOST")); v != "" {
		ac.Database.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ac.Database.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DB_USER")); v != "" {
		ac.Database.User = v
	}
	if v, ok := os.LookupEnv("DB_PASS"); ok {
		ac.Database.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_NAME")); v != "" {
		ac.Database.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("YT_API_KEY")); v != "" {
		ac.YouTube.APIKey = v
	}
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// ExpandPath expands leading ~ and environment variables in a filesystem path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
