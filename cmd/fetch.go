package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"feedsync/config"
	"feedsync/feeds"
	"feedsync/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch every page of a paginated feed",
		Description: `Pages through a configured paginated feed up to its max_pages
limit and prints the merged, newest first items. One JSON object per line.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "feed",
				Aliases:  []string{"f"},
				Usage:    "Id of the paginated feed to fetch",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "http-timeout",
				Value: 30 * time.Second,
				Usage: "Timeout for requests to the page provider",
			},
		},
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			feedCfg, ok := cfg.Feed(ctx.String("feed"))
			if !ok {
				return fmt.Errorf("%w: feed %s", models.ErrNotFound, ctx.String("feed"))
			}

			feed, err := feeds.NewFeed(feedCfg, feeds.Deps{
				HTTPClient: &http.Client{Timeout: ctx.Duration("http-timeout")},
			})
			if err != nil {
				return err
			}

			items, err := feed.Drain(ctx.Context)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"feed": feed.Id, "count": len(items)}).Info("Fetched feed")

			enc := json.NewEncoder(os.Stdout)
			for _, item := range items {
				if err := enc.Encode(item); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
