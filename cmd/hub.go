package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/db"
	"feedsync/hub"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func hubCmd() *cli.Command {
	return &cli.Command{
		Name:  "hub",
		Usage: "Serve the document store as a websocket hub",
		Description: `Streams collection snapshots from the local document store to
websocket subscribers. Remote feedsync instances follow the hub by listing it
under [live] hosts.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Value:   "",
				Usage:   "Host to bind the hub to",
				EnvVars: []string{"FEEDSYNC_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3001,
				Usage:   "Port for the hub",
				EnvVars: []string{"FEEDSYNC_HUB_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.Open(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			srv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", ctx.String("hostname"), ctx.Int("port")),
				Handler:           hub.New(store).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				log.Info("Gracefully shutting down...")
				_ = srv.Close()
			}()

			log.Infof("Starting hub on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
