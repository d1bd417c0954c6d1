// Package hub publishes live.Source snapshots to remote subscribers over
// websocket, speaking the frame format WSSource reads.
package hub

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"feedsync/live"
	"feedsync/models"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	hubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_hub_subscribers",
		Help: "Number of connected websocket subscribers",
	})

	hubFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_hub_frames_sent_total",
		Help: "Frames written to subscribers",
	}, []string{"type"})
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

type Hub struct {
	source   live.Source
	upgrader websocket.Upgrader
}

func New(source live.Source) *Hub {
	return &Hub{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 64,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves GET /subscribe?collection=&orderBy=&direction=&compress=
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", h.subscribe)
	return mux
}

type conn struct {
	ws  *websocket.Conn
	enc *zstd.Encoder
	mu  sync.Mutex
}

func (c *conn) write(f live.Frame) error {
	f.SentAt = time.Now().UnixMilli()
	messageType, data, err := live.EncodeFrame(f, c.enc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return err
	}
	hubFramesSent.WithLabelValues(string(f.Type)).Inc()
	return nil
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Hub) subscribe(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := live.Query{
		Collection: params.Get("collection"),
		OrderField: params.Get("orderBy"),
		Direction:  live.Direction(params.Get("direction")),
	}
	if q.Collection == "" {
		http.Error(w, "collection is required", http.StatusBadRequest)
		return
	}
	compress, _ := strconv.ParseBool(params.Get("compress"))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			log.WithError(err).Error("Failed to create zstd encoder")
			return
		}
		defer enc.Close()
		c.enc = enc
	}

	hubSubscribers.Inc()
	defer hubSubscribers.Dec()

	logger := log.WithFields(log.Fields{
		"collection": q.Collection,
		"remote":     r.RemoteAddr,
		"compress":   compress,
	})
	logger.Info("Subscriber connected")
	defer logger.Info("Subscriber disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stop, err := h.source.Subscribe(ctx, q,
		func(docs []models.Document) {
			if err := c.write(live.Frame{Type: live.FrameSnapshot, Collection: q.Collection, Docs: docs}); err != nil {
				logger.WithError(err).Debug("Failed to write snapshot")
				cancel()
			}
		},
		func(err error) {
			if err := c.write(live.Frame{Type: live.FrameError, Collection: q.Collection, Error: err.Error()}); err != nil {
				cancel()
			}
		},
	)
	if err != nil {
		c.write(live.Frame{Type: live.FrameError, Collection: q.Collection, Error: err.Error()})
		return
	}
	defer stop()

	go h.keepalive(ctx, c, cancel)

	// The client never sends data; reading detects the close.
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	<-ctx.Done()
}

func (h *Hub) keepalive(ctx context.Context, c *conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				cancel()
				return
			}
		}
	}
}
