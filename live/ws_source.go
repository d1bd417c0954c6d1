package live

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"feedsync/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_live_connection_attempts_total",
		Help: "The total number of connection attempts to the snapshot websocket",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_live_connection_errors_total",
		Help: "The total number of connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_live_current_connections",
		Help: "The current number of active snapshot websocket connections",
	})

	wsConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedsync_live_connection_duration_seconds",
		Help:    "Duration of snapshot websocket connections",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	wsSnapshotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_live_snapshots_received_total",
		Help: "Snapshots received per collection",
	}, []string{"collection"})

	wsHostSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_live_host_switches_total",
		Help: "Number of times the connection switched to a different host",
	}, []string{"from_host", "to_host"})
)

const (
	wsReadBufferSize  = 1024 * 1024
	wsWriteBufferSize = 1024
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// WSConfig holds configuration for the snapshot websocket connection.
type WSConfig struct {
	// Hosts is a list of hub endpoints to try in order,
	// e.g. ["wss://hub1.example.org", "wss://hub2.example.org"]
	Hosts     []string
	Compress  bool
	UserAgent string

	// Backoff bounds between reconnects. Zero values use the defaults.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// WSSource is a Source backed by a snapshot hub reached over websocket.
// It reconnects with exponential backoff and fails over between hosts.
type WSSource struct {
	config  WSConfig
	dialer  websocket.Dialer
	decoder *zstd.Decoder
}

func NewWSSource(config WSConfig) (*WSSource, error) {
	if len(config.Hosts) == 0 {
		return nil, fmt.Errorf("%w: no live hosts configured", models.ErrConfiguration)
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 30 * time.Second
	}

	s := &WSSource{
		config: config,
		dialer: websocket.Dialer{
			ReadBufferSize:   wsReadBufferSize,
			WriteBufferSize:  wsWriteBufferSize,
			HandshakeTimeout: 45 * time.Second,
			NetDialContext: (&net.Dialer{
				Timeout:   45 * time.Second,
				KeepAlive: 45 * time.Second,
			}).DialContext,
		},
	}

	if config.Compress {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		s.decoder = decoder
	}

	return s, nil
}

// Subscribe starts following q in the background and returns immediately.
// Connection failures are reported through onError and retried until the
// returned Unsubscribe is called or ctx ends.
func (s *WSSource) Subscribe(ctx context.Context, q Query, onSnapshot func([]models.Document), onError func(error)) (Unsubscribe, error) {
	if q.Collection == "" {
		return nil, errors.New("collection is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	go s.run(ctx, q, onSnapshot, onError)

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

func (s *WSSource) run(ctx context.Context, q Query, onSnapshot func([]models.Document), onError func(error)) {
	log.WithFields(log.Fields{
		"hosts":      s.config.Hosts,
		"collection": q.Collection,
	}).Info("Subscribing to snapshot hub")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.InitialInterval
	bo.MaxInterval = s.config.MaxInterval
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0 // Never stop retrying

	currentHostIdx := 0
	failedHosts := 0

	for ctx.Err() == nil {
		currentHost := s.config.Hosts[currentHostIdx]

		conn, err := s.dial(ctx, currentHost, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wsConnectionErrors.Inc()
			log.Errorf("Error connecting to snapshot hub %s: %s", currentHost, err)
			onError(fmt.Errorf("connect %s: %w", currentHost, err))

			nextHostIdx := (currentHostIdx + 1) % len(s.config.Hosts)
			if nextHostIdx != currentHostIdx {
				wsHostSwitches.WithLabelValues(currentHost, s.config.Hosts[nextHostIdx]).Inc()
				log.Infof("Switching from host %s to %s", currentHost, s.config.Hosts[nextHostIdx])
				currentHostIdx = nextHostIdx
			}

			// Only back off once every host has failed in a row.
			failedHosts++
			if failedHosts >= len(s.config.Hosts) {
				failedHosts = 0
				if !sleep(ctx, bo.NextBackOff()) {
					return
				}
			}
			continue
		}

		bo.Reset()
		failedHosts = 0

		err = s.read(ctx, conn, q, onSnapshot, onError)
		if ctx.Err() != nil {
			return
		}
		wsConnectionErrors.Inc()
		onError(fmt.Errorf("connection to %s lost: %w", currentHost, err))
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (s *WSSource) dial(ctx context.Context, host string, q Query) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimSuffix(host, "/") + "/subscribe")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	params := u.Query()
	params.Set("collection", q.Collection)
	if q.OrderField != "" {
		params.Set("orderBy", q.OrderField)
	}
	if q.Direction != "" {
		params.Set("direction", string(q.Direction))
	}
	if s.config.Compress {
		params.Set("compress", "true")
	}
	u.RawQuery = params.Encode()

	headers := http.Header{}
	if s.config.UserAgent != "" {
		headers.Set("User-Agent", s.config.UserAgent)
	}
	if s.config.Compress {
		headers.Set("Accept-Encoding", "zstd")
	}

	wsConnectionAttempts.Inc()
	conn, _, err := s.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// read consumes frames until the connection fails or ctx ends.
func (s *WSSource) read(ctx context.Context, conn *websocket.Conn, q Query, onSnapshot func([]models.Document), onError func(error)) error {
	wsCurrentConnections.Inc()
	connStart := time.Now()
	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		conn.Close()
		wsConnectionDuration.Observe(time.Since(connStart).Seconds())
		wsCurrentConnections.Dec()
	}()

	setupConnectionHandlers(conn)
	go managePingPong(connCtx, conn)

	// Unblock ReadMessage when the subscription is cancelled.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("Unexpected websocket close: %v", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		frame, err := DecodeFrame(messageType, data, s.decoder)
		if err != nil {
			log.WithFields(log.Fields{
				"collection": q.Collection,
				"error":      err,
			}).Warn("Dropping undecodable frame")
			continue
		}

		switch frame.Type {
		case FrameSnapshot:
			wsSnapshotsReceived.WithLabelValues(q.Collection).Inc()
			onSnapshot(frame.Docs)
		case FrameError:
			onError(errors.New(frame.Error))
		default:
			log.Debugf("Ignoring frame of type %q", frame.Type)
		}
	}
}

// setupConnectionHandlers configures the websocket connection handlers
func setupConnectionHandlers(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	conn.SetCloseHandler(func(code int, text string) error {
		log.Infof("WebSocket connection closed with code %d: %s", code, text)
		return nil
	})

	conn.SetPingHandler(func(appData string) error {
		log.Debug("Received ping from server")
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	conn.SetPongHandler(func(appData string) error {
		log.Debug("Received pong from server")
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
}

// managePingPong handles the ping/pong keepalive for the websocket connection
func managePingPong(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Warn("Ping failed, closing connection for restart: ", err)
				conn.Close()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
