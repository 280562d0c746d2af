package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WriteConfig renders ac as a starter config file at path. An existing
// database path in the file is preserved so re-running init never points the
// tool at a fresh, empty store.
func WriteConfig(path string, ac AppConfig) error {
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if prev, err := loadExistingConfig(path); err == nil {
		if db, ok := prev["database"].(map[string]any); ok {
			if v := str(db["path"]); v != "" {
				ac.Database.Path = v
			}
		}
	}

	// Rendered by hand so the file carries comments for the user.
	var sb strings.Builder
	sb.WriteString("# vibecheck configuration\n")

	sb.WriteString("database:\n")
	sb.WriteString(fmt.Sprintf("  driver: %q\n", ac.Database.Driver))
	if ac.Database.Driver == DriverPostgres {
		sb.WriteString(fmt.Sprintf("  host: %q\n", ac.Database.Host))
		sb.WriteString(fmt.Sprintf("  port: %d\n", ac.Database.Port))
		sb.WriteString(fmt.Sprintf("  user: %q\n", ac.Database.User))
		sb.WriteString(fmt.Sprintf("  name: %q\n", ac.Database.Name))
		sb.WriteString(fmt.Sprintf("  sslmode: %q\n", ac.Database.SSLMode))
		sb.WriteString("  # password is read from DB_PASS\n")
	} else {
		sb.WriteString(fmt.Sprintf("  path: %q\n", ac.Database.Path))
	}

	sb.WriteString("ingest:\n")
	sb.WriteString(fmt.Sprintf("  csv: %q\n", ac.DatasetPath))
	sb.WriteString(fmt.Sprintf("  comment_bridge: %q  # url or title\n", ac.CommentBridge))
	sb.WriteString("  platforms:\n")
	sb.WriteString(fmt.Sprintf("    commented: %q\n", ac.Platforms.Commented))
	sb.WriteString(fmt.Sprintf("    fallback: %q\n", ac.Platforms.Fallback))

	sb.WriteString("youtube:\n")
	if strings.TrimSpace(ac.YouTube.APIKey) != "" {
		sb.WriteString(fmt.Sprintf("  api_key: %q\n", ac.YouTube.APIKey))
	} else {
		sb.WriteString("  # api_key is read from YT_API_KEY\n")
	}
	sb.WriteString(fmt.Sprintf("  max_comments: %d\n", ac.YouTube.MaxComments))
	if len(ac.YouTube.ChannelIDs) > 0 {
		sb.WriteString("  channel_ids:\n")
		for _, id := range ac.YouTube.ChannelIDs {
			sb.WriteString(fmt.Sprintf("    - %s\n", strings.TrimSpace(id)))
		}
	}

	if len(ac.Feeds.Sources) > 0 {
		sb.WriteString("feeds:\n")
		sb.WriteString(fmt.Sprintf("  max_posts_per_feed: %d\n", ac.Feeds.MaxPostsPerFeed))
		sb.WriteString("  sources:\n")
		for _, src := range ac.Feeds.Sources {
			sb.WriteString(fmt.Sprintf("    - name: %q\n", src.Name))
			sb.WriteString(fmt.Sprintf("      url: %q\n", src.URL))
			if src.MatchName {
				sb.WriteString("      match_name: true\n")
			}
		}
	}

	if ac.Schedule.IntervalMinutes > 0 {
		sb.WriteString("schedule:\n")
		sb.WriteString(fmt.Sprintf("  interval_minutes: %d\n", ac.Schedule.IntervalMinutes))
	}
	if strings.TrimSpace(ac.LogFile) != "" {
		sb.WriteString(fmt.Sprintf("log_file: %q\n", ac.LogFile))
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func loadExistingConfig(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// BackupFile creates a backup of the specified file with a timestamp
func BackupFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ts := time.Now().Format("20060102-150405")
	bak := path + ".bak-" + ts
	return os.WriteFile(bak, b, 0o644)
}
