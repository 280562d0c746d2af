package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"vibecheck/internal/config"
	"vibecheck/internal/dataset"
	"vibecheck/internal/ingest"
	"vibecheck/internal/launchd"
	"vibecheck/internal/scrape"
	"vibecheck/internal/setup"
	"vibecheck/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "vibecheck",
		Usage:   "Scrape influencer engagement and load it into a relational store",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to config file (default ~/.config/vibecheck/config.yaml)"},
			&cli.StringFlag{Name: "log-file", Usage: "Append log lines to this file instead of stdout"},
		},
		Commands: []*cli.Command{
			{
				Name:  "setup",
				Usage: "Interactively write the config, create the database and install the schedule",
				Action: func(ctx context.Context, c *cli.Command) error {
					return setup.Run(ctx, config.ExpandPath(c.String("config")))
				},
			},
			{
				Name:  "init",
				Usage: "Create the database and bring the schema up to date",
				Action: func(ctx context.Context, c *cli.Command) error {
					rep, err := ingest.Run(ctx, ingest.Options{LogFile: c.String("log-file"), SchemaOnly: true}, loader(c))
					if err != nil {
						return err
					}
					return rep.Err()
				},
			},
			{
				Name:  "ingest",
				Usage: "Upsert a cleaned dataset CSV into the database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "csv", Usage: "Dataset CSV (default from config)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					opts := ingest.Options{
						LogFile:     c.String("log-file"),
						DatasetPath: c.String("csv"),
					}
					rep, err := ingest.Run(ctx, opts, loader(c))
					if err != nil {
						return err
					}
					fmt.Println(rep.Totals())
					return rep.Err()
				},
			},
			{
				Name:  "scrape",
				Usage: "Collect rows from YouTube and news feeds into the dataset CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "Output CSV (default: the configured dataset path)"},
					&cli.BoolFlag{Name: "youtube", Usage: "Only scrape YouTube"},
					&cli.BoolFlag{Name: "feeds", Usage: "Only scrape news feeds"},
					&cli.BoolFlag{Name: "ingest", Usage: "Ingest the scraped rows afterwards"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					opts := scrape.Options{YouTube: c.Bool("youtube"), Feeds: c.Bool("feeds")}
					if !opts.YouTube && !opts.Feeds {
						opts = scrape.Options{YouTube: true, Feeds: true}
					}
					return scrapeAndIngest(ctx, c, opts, c.String("out"), c.Bool("ingest"))
				},
			},
			{
				Name:  "run",
				Usage: "Scrape every source, save the dataset and ingest it (used by the schedule)",
				Action: func(ctx context.Context, c *cli.Command) error {
					return scrapeAndIngest(ctx, c, scrape.Options{YouTube: true, Feeds: true}, "", true)
				},
			},
			{
				Name:  "schedule",
				Usage: "Manage the launchd agent that runs scrape and ingest periodically (macOS)",
				Commands: []*cli.Command{
					{
						Name:  "install",
						Usage: "Install and load the agent",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "interval-minutes", Usage: "Override interval minutes (default from config)"},
							&cli.StringFlag{Name: "plist", Usage: "custom plist path (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							cfg, err := loader(c)()
							if err != nil {
								return err
							}
							exe, _ := os.Executable()
							if strings.TrimSpace(exe) == "" {
								return fmt.Errorf("cannot discover program path")
							}
							args := []string{"run"}
							if v := c.String("config"); strings.TrimSpace(v) != "" {
								args = append(args, "--config", config.ExpandPath(v))
							}
							interval := cfg.Schedule.IntervalMinutes
							if v := c.Int("interval-minutes"); v > 0 {
								interval = int(v)
							}
							logFile := firstNonEmpty(c.String("log-file"), cfg.LogFile)
							path, err := launchd.Install(launchd.InstallOptions{
								Label:           cfg.Schedule.Label,
								IntervalMinutes: interval,
								ProgramPath:     exe,
								ProgramArgs:     args,
								StdOutPath:      config.ExpandPath(logFile),
								StdErrPath:      config.ExpandPath(logFile),
								PlistPath:       c.String("plist"),
							})
							if err != nil {
								return err
							}
							fmt.Printf("launchd agent installed and loaded: %s\n", path)
							return nil
						},
					},
					{
						Name:  "uninstall",
						Usage: "Unload and remove the agent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "plist", Usage: "path to plist (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							cfg, err := loader(c)()
							if err != nil {
								return err
							}
							if err := launchd.Uninstall(cfg.Schedule.Label, c.String("plist")); err != nil {
								return err
							}
							fmt.Println("launchd agent unloaded and removed")
							return nil
						},
					},
					{
						Name:  "status",
						Usage: "Show whether the agent is loaded",
						Action: func(ctx context.Context, c *cli.Command) error {
							cfg, err := loader(c)()
							if err != nil {
								return err
							}
							_, state := launchd.Status(cfg.Schedule.Label)
							fmt.Printf("%s: %s\n", cfg.Schedule.Label, state)
							if path, err := launchd.DefaultAgentPath(cfg.Schedule.Label); err == nil {
								if secs, err := launchd.ExtractStartInterval(path); err == nil {
									fmt.Printf("interval: %d minutes\n", secs/60)
								}
							}
							return nil
						},
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage the config file",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write a starter config with the default settings",
						Action: func(ctx context.Context, c *cli.Command) error {
							path := config.ExpandPath(c.String("config"))
							if path == "" {
								p, err := config.DefaultConfigPath()
								if err != nil {
									return err
								}
								path = p
							}
							if _, err := os.Stat(path); err == nil {
								if err := config.BackupFile(path); err != nil {
									return fmt.Errorf("backup existing config: %w", err)
								}
							}
							if err := config.WriteConfig(path, config.Defaults()); err != nil {
								return err
							}
							fmt.Printf("config written to %s\n", path)
							return nil
						},
					},
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func loader(c *cli.Command) config.ConfigLoad {
	if p := strings.TrimSpace(c.String("config")); p != "" {
		return config.FileLoader(config.ExpandPath(p))
	}
	return config.AppConfigLoader()
}

// scrapeAndIngest writes whatever the sources returned before reporting their
// errors, so one failing source never loses the rows of the others.
func scrapeAndIngest(ctx context.Context, c *cli.Command, opts scrape.Options, out string, thenIngest bool) error {
	load := loader(c)
	cfg, err := load()
	if err != nil {
		return err
	}
	logFile := firstNonEmpty(c.String("log-file"), cfg.LogFile)
	logger, closeLog := ingest.NewLogger(os.Stdout, config.ExpandPath(logFile))
	defer closeLog()

	res, scrapeErr := scrape.Collect(ctx, cfg, opts, logger)
	if errors.Is(scrapeErr, scrape.ErrNoSources) {
		return scrapeErr
	}
	if scrapeErr != nil {
		logger.Printf("warning: scrape finished with errors: %v", scrapeErr)
	}

	path := config.ExpandPath(firstNonEmpty(out, cfg.DatasetPath))
	if len(res.Rows) > 0 {
		if err := dataset.Save(path, res.Rows); err != nil {
			return fmt.Errorf("save dataset: %w", err)
		}
		logger.Printf("dataset saved: path=%s rows=%d", path, len(res.Rows))
	}

	if thenIngest && len(res.Rows) > 0 {
		rep, err := ingest.Run(ctx, ingest.Options{LogFile: logFile, Rows: res.Rows}, load)
		if err != nil {
			return errors.Join(scrapeErr, err)
		}
		return errors.Join(scrapeErr, rep.Err())
	}
	return scrapeErr
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
