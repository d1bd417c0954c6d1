package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feedsync/db"
	"feedsync/live"
	"feedsync/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Print every snapshot of a live collection to the command line",
		Description: `Follows a live collection through a websocket hub, or straight from
the local document store when no hub is given, and prints the sorted items
after every change.

Returns each snapshot as a JSON array on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringSliceFlag{
				Name:    "hosts",
				Usage:   "Hub websocket URLs, tried in order",
				EnvVars: []string{"FEEDSYNC_HUB_HOSTS"},
			},
			&cli.StringFlag{
				Name:     "collection",
				Usage:    "Collection to follow",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "order-field",
				Value: models.DefaultTimestampField,
				Usage: "Field holding each document's timestamp",
			},
			&cli.BoolFlag{
				Name:  "compress",
				Usage: "Ask the hub for zstd compressed frames",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			var source live.Source
			if hosts := ctx.StringSlice("hosts"); len(hosts) > 0 {
				ws, err := live.NewWSSource(live.WSConfig{Hosts: hosts, Compress: ctx.Bool("compress")})
				if err != nil {
					return err
				}
				source = ws
			} else {
				store, err := db.Open(ctx.String("database"))
				if err != nil {
					return err
				}
				defer store.Close()
				source = store
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			unsubscribe := live.NewSubscriber(source).Subscribe(sigCtx, live.Query{
				Collection: ctx.String("collection"),
				OrderField: ctx.String("order-field"),
				Direction:  live.Descending,
			}, printItems, func(err error) {
				log.WithError(err).Error("Subscription error")
			})
			defer unsubscribe()

			<-sigCtx.Done()
			log.Info("Stopping subscription")
			return nil
		},
	}
}

// printItems writes the items as a single JSON line
func printItems(items []models.FeedItem) {
	if items == nil {
		items = []models.FeedItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		log.WithError(err).Error("Failed to encode items")
		return
	}
	fmt.Println(string(data))
}
