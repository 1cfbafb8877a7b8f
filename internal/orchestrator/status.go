package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TickEvent is one completed tick, broadcast to connected debug-feed
// clients. Kept separate from Tick itself since it carries outcome
// fields a queued message never needs.
type TickEvent struct {
	Chain      string    `json:"chain"`
	Kind       Kind      `json:"kind"`
	Phase      Phase     `json:"phase"`
	Status     string    `json:"status"`
	Err        string    `json:"error,omitempty"`
	Duration   string    `json:"duration"`
	ObservedAt time.Time `json:"observed_at"`
}

// StatusServer is an operator-facing status/debug surface (spec §1's
// downstream analytics API is explicitly out of scope; this server
// exists only for operators of the import engine itself): health,
// queue depth, /metrics for Prometheus scraping, and a WebSocket feed of
// completed tick outcomes. Grounded on internal/api.Server's http.Server
// wiring and internal/listener's gorilla/websocket usage, generalized
// from an inbound node subscription to an outbound operator broadcast.
type StatusServer struct {
	httpServer *http.Server
	logger     *zap.Logger
	worker     *Worker

	upgrader websocket.Upgrader
	mu       sync.Mutex
	feeds    map[*websocket.Conn]chan TickEvent
}

// NewStatusServer builds a StatusServer bound to addr.
func NewStatusServer(addr string, worker *Worker, logger *zap.Logger) *StatusServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &StatusServer{
		logger:   logger,
		worker:   worker,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		feeds:    make(map[*websocket.Conn]chan TickEvent),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
	r.HandleFunc("/debug/feed", s.handleFeed).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *StatusServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.worker.QueueStats(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(stats)
}

// handleFeed upgrades the connection and streams every Broadcast call
// until the client disconnects.
func (s *StatusServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("orchestrator status: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan TickEvent, 32)
	s.mu.Lock()
	s.feeds[conn] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.feeds, conn)
		s.mu.Unlock()
	}()

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Broadcast pushes a completed tick to every connected debug-feed client.
// Slow or stuck clients are dropped rather than blocking the broadcaster.
func (s *StatusServer) Broadcast(event TickEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.feeds {
		select {
		case ch <- event:
		default:
			s.logger.Warn("orchestrator status: dropping slow debug-feed client")
			delete(s.feeds, conn)
			close(ch)
		}
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *StatusServer) Run(ctx context.Context) error {
	s.logger.Info("starting orchestrator status server", zap.String("addr", s.httpServer.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("orchestrator status server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down orchestrator status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
