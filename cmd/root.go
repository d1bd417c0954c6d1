package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "Keep live and paginated content feeds in sync",
		Description: `Feedsync merges content from push-based live collections and
		pull-based paginated providers into chronologically ordered,
		de-duplicated feeds.

		Live collections are followed over a websocket hub or read straight
		from the local SQLite document store. Paginated feeds are pulled from
		JSON endpoints, YouTube channels or RSS feeds. Every feed is exposed
		through an HTTP API with server-sent updates.

		Flags can generally be set via environment variables, e.g.:

		--database => FEEDSYNC_DATABASE=feedsync.db
		--port => FEEDSYNC_PORT=3000
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FEEDSYNC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"FEEDSYNC_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			if ctx.String("log-format") == "json" {
				log.SetFormatter(&log.JSONFormatter{})
			} else {
				log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			hubCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			importCmd(),
			subscribeCmd(),
			fetchCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "feedsync.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"FEEDSYNC_DATABASE"},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config/feeds.toml",
		Usage:   "Path to feeds configuration file",
		EnvVars: []string{"FEEDSYNC_CONFIG"},
	}
}
