package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/config"
	"feedsync/db"
	"feedsync/feeds"
	"feedsync/hub"
	"feedsync/live"
	"feedsync/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the configured feeds",
		Description: `Loads every feed from the configuration file and serves them
over HTTP.

Live feeds follow their collection through the configured hub or the local
document store. Paginated feeds load their first page on startup and fetch
more on request. State changes are pushed to SSE clients.`,
		Flags: []cli.Flag{
			configFlag(),
			databaseFlag(),
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Value:   "",
				Usage:   "Host to bind the HTTP server to",
				EnvVars: []string{"FEEDSYNC_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port for the HTTP API",
				EnvVars: []string{"FEEDSYNC_PORT"},
			},
			&cli.IntFlag{
				Name:    "hub-port",
				Value:   0,
				Usage:   "Also serve the local store as a websocket hub on this port (0 disables)",
				EnvVars: []string{"FEEDSYNC_HUB_PORT"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Value:   "http://localhost:3001",
				Usage:   "Comma separated CORS origins",
				EnvVars: []string{"FEEDSYNC_ALLOW_ORIGINS"},
			},
			&cli.DurationFlag{
				Name:    "http-timeout",
				Value:   30 * time.Second,
				Usage:   "Timeout for requests to page providers",
				EnvVars: []string{"FEEDSYNC_HTTP_TIMEOUT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var store *db.Store
			if cfg.Live.Source == config.LiveSourceStore || ctx.Int("hub-port") != 0 {
				store, err = db.Open(ctx.String("database"))
				if err != nil {
					return err
				}
				defer store.Close()
			}

			source, err := liveSource(cfg, store)
			if err != nil {
				return err
			}

			bc := server.NewBroadcaster()
			feedMap, err := feeds.InitializeFeeds(cfg, feeds.Deps{
				Live:       source,
				HTTPClient: &http.Client{Timeout: ctx.Duration("http-timeout")},
				OnChange:   bc.Broadcast,
			})
			if err != nil {
				return err
			}

			app := server.Server(&server.ServerConfig{
				Feeds:        feedMap,
				Broadcaster:  bc,
				AllowOrigins: ctx.String("allow-origins"),
			})

			// Graceful shutdown
			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(sigCtx)

			for _, feed := range feedMap {
				feed := feed
				g.Go(func() error {
					return feed.Run(gctx)
				})
				g.Go(func() error {
					if err := feed.Load(gctx); err != nil {
						// Not fatal, clients see the error and can refresh
						log.WithFields(log.Fields{
							"feed":  feed.Id,
							"error": err,
						}).Error("Initial load failed")
					}
					return nil
				})
			}

			addr := fmt.Sprintf("%s:%d", ctx.String("hostname"), ctx.Int("port"))
			g.Go(func() error {
				log.Infof("Starting server on %s", addr)
				return app.Listen(addr)
			})

			if port := ctx.Int("hub-port"); port != 0 {
				hubServer := &http.Server{
					Addr:              fmt.Sprintf("%s:%d", ctx.String("hostname"), port),
					Handler:           hub.New(store).Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					log.Infof("Starting hub on %s", hubServer.Addr)
					if err := hubServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return hubServer.Shutdown(shutdownCtx)
				})
			}

			g.Go(func() error {
				<-gctx.Done()
				log.Info("Gracefully shutting down...")
				bc.Shutdown()
				return app.ShutdownWithTimeout(60 * time.Second)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("Done!")
			return nil
		},
	}
}

// liveSource picks the snapshot source for live feeds
func liveSource(cfg *config.TomlConfig, store *db.Store) (live.Source, error) {
	if cfg.Live.Source == config.LiveSourceStore {
		return store, nil
	}
	if len(cfg.Live.Hosts) == 0 {
		// No live feeds configured
		return nil, nil
	}
	return live.NewWSSource(live.WSConfig{
		Hosts:     cfg.Live.Hosts,
		Compress:  cfg.Live.Compress,
		UserAgent: cfg.Live.UserAgent,
	})
}
