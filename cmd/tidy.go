package cmd

import (
	"time"

	"feedsync/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the document store",
		Description: `Removes documents that have not been written for a while.

Live subscribers of the affected collections receive a fresh snapshot.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.DurationFlag{
				Name:    "max-age",
				Value:   90 * 24 * time.Hour,
				Usage:   "Delete documents last written longer ago than this",
				EnvVars: []string{"FEEDSYNC_MAX_AGE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.Open(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Tidy(ctx.Context, ctx.Duration("max-age"))
			if err != nil {
				return err
			}
			log.WithField("removed", removed).Info("Tidied document store")
			return nil
		},
	}
}
