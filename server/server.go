package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"feedsync/cache"
	"feedsync/feeds"
	"feedsync/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fibercache "github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "feedsync_http_request_duration_seconds",
	Help:    "Latency of API requests",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})

type ServerConfig struct {
	// Feeds served by the API, by id
	Feeds map[string]*feeds.Feed

	// Broadcast channel fan-out for SSE clients
	Broadcaster *Broadcaster

	// Comma separated origins allowed by CORS
	AllowOrigins string

	// Interval between SSE keep-alive pings
	PingInterval time.Duration
}

type feedResponse struct {
	Feed   feeds.Info        `json:"feed"`
	Status models.Status     `json:"status"`
	Items  []models.FeedItem `json:"items"`
}

type selectRequest struct {
	Id string `json:"id"`
}

// errorStatus maps engine errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrConfiguration):
		return fiber.StatusInternalServerError
	case errors.Is(err, models.ErrInitialLoad), errors.Is(err, models.ErrLoadMore), errors.Is(err, models.ErrSubscription):
		return fiber.StatusBadGateway
	case errors.Is(err, models.ErrSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, cache.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// Returns a fiber.App instance to be used as an HTTP server for the feeds
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster
	if bc == nil {
		bc = NewBroadcaster()
	}
	pingInterval := config.PingInterval
	if pingInterval == 0 {
		pingInterval = 5 * time.Second
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := errorStatus(err)
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		},
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		requestDuration.WithLabelValues(c.Method(), c.Route().Path, fmt.Sprint(status)).Observe(latency.Seconds())

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": latency,
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/sse")
		},
	}))

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     config.AllowOrigins,
			AllowHeaders:     "Cache-Control, Content-Type",
			AllowCredentials: true,
		}))
	}

	// Only the feed list is static enough to cache
	app.Use(fibercache.New(fibercache.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodGet || c.Path() != "/feeds"
		},
		Expiration: 30 * time.Second,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/feeds", func(c *fiber.Ctx) error {
		infos := lo.Map(lo.Values(config.Feeds), func(f *feeds.Feed, _ int) feeds.Info {
			return f.Info()
		})
		slices.SortFunc(infos, func(a, b feeds.Info) int { return strings.Compare(a.Id, b.Id) })
		return c.JSON(infos)
	})

	lookup := func(c *fiber.Ctx) (*feeds.Feed, error) {
		feed, ok := config.Feeds[c.Params("id")]
		if !ok {
			return nil, fmt.Errorf("%w: feed %s", models.ErrNotFound, c.Params("id"))
		}
		return feed, nil
	}

	respond := func(c *fiber.Ctx, feed *feeds.Feed) error {
		state := feed.State()
		items := state.Items
		if items == nil {
			items = []models.FeedItem{}
		}
		return c.JSON(feedResponse{Feed: feed.Info(), Status: state.Status(), Items: items})
	}

	app.Get("/feeds/:id", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		return respond(c, feed)
	})

	app.Get("/feeds/:id/status", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		return c.JSON(feed.Status())
	})

	app.Get("/feeds/:id/selection", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		return c.JSON(feed.Selection())
	})

	app.Post("/feeds/:id/select", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		var req selectRequest
		if err := c.BodyParser(&req); err != nil || req.Id == "" {
			return fiber.NewError(fiber.StatusBadRequest, "body must be {\"id\": \"...\"}")
		}
		selection, err := feed.OnSelect(req.Id)
		if err != nil {
			return err
		}
		return c.JSON(selection)
	})

	app.Post("/feeds/:id/more", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		if err := feed.OnEndReached(c.UserContext()); err != nil {
			return err
		}
		return respond(c, feed)
	})

	app.Post("/feeds/:id/refresh", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		if err := feed.OnRefresh(c.UserContext()); err != nil {
			return err
		}
		return respond(c, feed)
	})

	app.Delete("/feeds/:id/sse", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}
		key := c.Query("key", "")
		if !bc.RemoveFeedClient(key, feed.Id) {
			return fmt.Errorf("%w: client %s on feed %s", models.ErrNotFound, key, feed.Id)
		}
		return c.Status(200).SendString("OK")
	})

	app.Get("/feeds/:id/sse", func(c *fiber.Ctx) error {
		feed, err := lookup(c)
		if err != nil {
			return err
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		events := make(chan models.FeedEvent, 10)
		bc.AddClient(key, feed.Id, events)

		initial := feed.State()

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			aliveChan := time.NewTicker(pingInterval)
			defer aliveChan.Stop()
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := writeEvent(w, models.FeedEvent{FeedID: feed.Id, Status: initial.Status(), Items: initial.Items}); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-events:
					if !ok {
						log.Debugf("Event channel closed for client %s", key)
						return
					}
					if err := writeEvent(w, event); err != nil {
						log.Warnf("Failed to send state event to client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

func writeEvent(w *bufio.Writer, event models.FeedEvent) error {
	if event.Items == nil {
		event.Items = []models.FeedItem{}
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
