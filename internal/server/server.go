package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/retry"
	"github.com/spellbook-dev/spellbook/internal/store"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	addr     string
	port     int // actual port after binding (useful when using :0)
	endpoint string
}

// ServerConfig configures the coordination server.
type ServerConfig struct {
	// Addr is the address to listen on, e.g. "127.0.0.1:7432".
	Addr string
	// Store is the state manager backing every endpoint. Required.
	Store *store.Store
	// Broker delivers change notifications to event streams. Optional;
	// without it streams fall back to pure polling.
	Broker *pubsub.Broker[store.Change]
	// Policy classifies worker errors. Zero value means defaults.
	Policy retry.Policy
	// Version is reported by the health endpoint.
	Version string
	// PollInterval and KeepaliveInterval tune event streams; zero values
	// take the handler defaults.
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
	// StatusCacheTTL bounds staleness of cached status snapshots.
	StatusCacheTTL time.Duration
	// Tracer enables per-request spans. Optional.
	Tracer trace.Tracer
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Zero means no timeout, which event streams require.
	WriteTimeout time.Duration
}

// NewServer binds the listener and builds the handler around it.
// If Addr uses port 0 (e.g. "127.0.0.1:0"), the OS assigns a free port;
// use Port() or Endpoint() to learn the bound address.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	// The listener comes first: the endpoint advertised in create
	// responses must carry the port actually bound, not the one asked for.
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	endpoint := advertisedEndpoint(cfg.Addr, port)

	handler := NewHandler(HandlerConfig{
		Store:             cfg.Store,
		Broker:            cfg.Broker,
		Policy:            cfg.Policy,
		Endpoint:          endpoint,
		Version:           cfg.Version,
		PollInterval:      cfg.PollInterval,
		KeepaliveInterval: cfg.KeepaliveInterval,
		StatusCacheTTL:    cfg.StatusCacheTTL,
		Tracer:            cfg.Tracer,
	})

	return &Server{
		handler:  handler,
		addr:     cfg.Addr,
		port:     port,
		endpoint: endpoint,
		listener: listener,
		server: &http.Server{
			Handler:           handler.Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}, nil
}

// Start serves requests. It blocks until the server is stopped or fails;
// after Stop it returns http.ErrServerClosed.
func (s *Server) Start() error {
	log.Info(log.CatServer, "Starting coordination server",
		"addr", s.listener.Addr().String(), "endpoint", s.endpoint)
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server. Open event streams are released
// first so Shutdown does not wait on long-lived subscribers.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatServer, "Stopping coordination server")
	s.handler.Close()
	return s.server.Shutdown(ctx)
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Endpoint returns the base URL workers should dial,
// e.g. "http://127.0.0.1:7432".
func (s *Server) Endpoint() string {
	return s.endpoint
}

// advertisedEndpoint derives the URL handed to workers from the bind
// address. An unspecified host is advertised as loopback: workers dial
// this value, and "0.0.0.0" is not a dialable destination.
func advertisedEndpoint(bindAddr string, port int) string {
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
