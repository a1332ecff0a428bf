// Package web implements the meshd gateway (§4.7): a static
// single-page dashboard, a REST surface for peer/rule introspection
// and manual actuation, and a WebSocket push feed of swarm events.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/rules"
	"github.com/meshd/meshd/internal/store"
)

//go:embed static/*
var staticFS embed.FS

// Actuator is the capability the REST gateway needs to dispatch a
// manual /api/actuate call to this node (empty node field), satisfied
// by *supervisor.Supervisor. Calls naming another node go through
// RemoteActuator instead.
type Actuator interface {
	Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse
}

// RemoteActuator dispatches a manual actuation to a named peer,
// satisfied by *swarm.Manager.
type RemoteActuator interface {
	RequestActuation(ctx context.Context, peerID model.PeerID, req model.ActuationRequest) model.ActuationResponse
}

// Config controls the gateway's listen address and per-connection
// outbound buffering.
type Config struct {
	Port       int
	SendBuffer int // bounded per-connection frame buffer (§4.7); 0 means DefaultSendBuffer
}

// DefaultSendBuffer is the fallback bound on a connection's outbound
// frame buffer when Config.SendBuffer is unset.
const DefaultSendBuffer = 256

// Server serves the dashboard, the REST introspection endpoints, and
// the /updates WebSocket feed.
type Server struct {
	cfg    Config
	bus    *events.Bus
	store  *store.Store
	rules  *rules.Engine
	local  Actuator
	remote RemoteActuator
	logger *slog.Logger

	hub *hub

	listener net.Listener
	server   *http.Server
}

// NewServer builds a gateway Server. rulesEngine may be nil if the
// caller has no rule introspection to offer (GET /api/rules then
// reports an empty list). localPeer is rendered into every local
// sensor_data frame's node field, so a dashboard client can tell local
// readings apart from a remote peer's without special-casing an empty
// string.
func NewServer(cfg Config, bus *events.Bus, st *store.Store, localPeer model.PeerID, rulesEngine *rules.Engine, local Actuator, remote RemoteActuator, logger *slog.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		bus:    bus,
		store:  st,
		rules:  rulesEngine,
		local:  local,
		remote: remote,
		logger: logger,
		hub:    newHub(bus, st, localPeer, cfg.SendBuffer, logger),
	}
}

// Handler builds the gateway's http.Handler: the embedded static
// bundle at "/", the REST endpoints under "/api/", and the WebSocket
// endpoint at "/updates".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// staticFS is compiled in; a broken embed is a build-time bug.
		panic(fmt.Sprintf("web: static assets: %v", err))
	}
	mux.Handle("GET /", http.FileServer(http.FS(sub)))

	mux.HandleFunc("GET /updates", s.hub.serveWS)

	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("GET /api/rules", s.handleRules)
	mux.HandleFunc("POST /api/actuate", s.handleActuate)

	return s.withLogging(mux)
}

// Start binds the listen address and serves until Shutdown is called;
// cancelling ctx stops only the WebSocket event hub, not the HTTP
// server. Binding happens synchronously so a port-in-use
// error is reported to the caller before any request is served (§6
// exit code 3).
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go s.hub.run(ctx)

	s.logger.Info("web gateway listening", "addr", addr)
	err = s.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and closes every open
// WebSocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, snapshotToDTO(s.store.Snapshot()))
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		writeJSON(w, s.logger, []ruleDTO{})
		return
	}
	writeJSON(w, s.logger, rulesToDTO(s.rules.Rules()))
}

func (s *Server) handleActuate(w http.ResponseWriter, r *http.Request) {
	var req actuateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	areq := model.ActuationRequest{DeviceName: req.Device, ActuatorName: req.ActuatorName, Value: req.Value}

	var resp model.ActuationResponse
	if req.Node == "" {
		if s.local == nil {
			http.Error(w, "local actuation is not available", http.StatusServiceUnavailable)
			return
		}
		resp = s.local.Actuate(ctx, areq.DeviceName, areq.ActuatorName, areq.Value, model.LocalOrigin())
	} else {
		if s.remote == nil {
			http.Error(w, "remote actuation is not available", http.StatusServiceUnavailable)
			return
		}
		peerID, err := decodePeerID(req.Node)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid node: %v", err), http.StatusBadRequest)
			return
		}
		resp = s.remote.RequestActuation(ctx, peerID, areq)
	}

	writeJSON(w, s.logger, actuationResponseToDTO(resp))
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}
