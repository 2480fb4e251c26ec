package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/history"
	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// SessionLister is the read side of the session history.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]history.Summary, error)
}

// Server serves the live chart page and broadcasts session updates to
// WebSocket clients. It implements session.Renderer.
type Server struct {
	cfg     *Config
	webFS   fs.FS
	history SessionLister
	log     *zap.SugaredLogger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// Chart state replayed to clients that connect mid-session
	chartMu sync.Mutex
	profile string
	status  *session.Status
	points  []telemetry.Sample
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Type    string             `json:"type"` // "reset", "status", "sample", "console", "snapshot"
	Profile string             `json:"profile,omitempty"`
	Status  *session.Status    `json:"status,omitempty"`
	Title   string             `json:"title,omitempty"`
	Sample  *telemetry.Sample  `json:"sample,omitempty"`
	Points  []telemetry.Sample `json:"points,omitempty"`
	Line    string             `json:"line,omitempty"`
	Stamp   int64              `json:"stamp"` // Unix ms
}

const recentSessionsLimit = 50

// New creates a new Server. hist may be nil when history is disabled.
func New(cfg *Config, hist SessionLister, webFS fs.FS, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		history: hist,
		log:     log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Infof("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Reset clears the chart for a new session.
func (s *Server) Reset(profile string) {
	s.chartMu.Lock()
	s.profile = profile
	s.points = nil
	s.chartMu.Unlock()

	s.broadcast(Frame{Type: "reset", Profile: profile, Stamp: time.Now().UnixMilli()})
}

// Status updates the chart heading.
func (s *Server) Status(st session.Status) {
	s.chartMu.Lock()
	s.status = &st
	s.chartMu.Unlock()

	s.broadcast(Frame{Type: "status", Status: &st, Title: st.Title(), Stamp: time.Now().UnixMilli()})
}

// Plot appends a sample to the chart.
func (s *Server) Plot(smp telemetry.Sample) {
	s.chartMu.Lock()
	s.points = append(s.points, smp)
	s.chartMu.Unlock()

	s.broadcast(Frame{Type: "sample", Sample: &smp, Stamp: time.Now().UnixMilli()})
}

// Console forwards a controller comment line.
func (s *Server) Console(line string) {
	s.broadcast(Frame{Type: "console", Line: line, Stamp: time.Now().UnixMilli()})
}

func (s *Server) snapshot() Frame {
	s.chartMu.Lock()
	defer s.chartMu.Unlock()

	f := Frame{
		Type:    "snapshot",
		Profile: s.profile,
		Points:  append([]telemetry.Sample(nil), s.points...),
		Stamp:   time.Now().UnixMilli(),
	}
	if s.status != nil {
		st := *s.status
		f.Status = &st
		f.Title = st.Title()
	}
	return f
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	// Queue the current chart before registering so it arrives first
	if data, err := json.Marshal(s.snapshot()); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Infof("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; the page sends nothing meaningful)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Infof("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warnf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	limit := recentSessionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= recentSessionsLimit {
			limit = n
		}
	}

	list, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warnf("[history] list failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []history.Summary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
