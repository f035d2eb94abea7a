package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
	"github.com/nerrad567/gray-logic-relay/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Socket keepalive fallbacks, in seconds, for configs that leave them unset.
const (
	defaultPingInterval = 25
	defaultPongTimeout  = 20
)

// Deps holds the dependencies required by the API server.
// Audit, DB, MQTT, Influx and Counters are optional.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Broker   *relay.Broker
	Audit    audit.Repository
	DB       *database.DB
	MQTT     *mqtt.Client
	Influx   *influxdb.Client
	Counters *telemetry.Counters
	Version  string
}

// Server is the HTTP front of the relay.
//
// It manages the HTTP listener, routes, middleware and the socket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	broker    *relay.Broker
	auditRepo audit.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	counters  *telemetry.Counters
	version   string
	startTime time.Time
	hub       *Hub
	server    *http.Server
	listener  net.Listener
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	ws := deps.WS
	if ws.Path == "" {
		ws.Path = "/ws"
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = defaultPingInterval
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultPongTimeout
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     ws,
		logger:    deps.Logger,
		broker:    deps.Broker,
		auditRepo: deps.Audit,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		counters:  deps.Counters,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// Handler returns the routed HTTP handler. Start uses it; tests mount it on
// an httptest server.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// The bind happens before Start returns so a busy port is reported to the
// caller. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
				"websocket_path", s.wsCfg.Path,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting",
				"address", ln.Addr().String(),
				"websocket_path", s.wsCfg.Path,
			)
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// Open sockets are closed through the hub; each one runs the broker's
// disconnect path. In-flight HTTP requests get up to 10 seconds.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down", "websocket_clients", s.hub.ClientCount())
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
