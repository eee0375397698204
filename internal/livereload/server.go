// Package livereload implements a LiveReload protocol 7 server. Browsers
// running the livereload client connect over a websocket and refresh when
// the watch task reports a successful rebuild.
package livereload

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/jadewatch/internal/metrics"
)

//go:embed livereload.js
var clientScript []byte

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16

	// RequestIDHeader is echoed on every response.
	RequestIDHeader = "X-Request-Id"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, ":35729" by convention.
	Addr string

	// ServerName is announced in the hello handshake.
	ServerName string

	// Version is reported on the welcome endpoint.
	Version string

	Logger *slog.Logger
}

// Server broadcasts reload notifications to connected clients.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine

	mu      sync.Mutex
	clients map[*client]struct{}
	srv     *http.Server
	ln      net.Listener
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (cl *client) close() {
	cl.once.Do(func() {
		close(cl.send)
	})
}

// New builds a Server. Call Start to begin listening, or mount Handler in
// an existing http.Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ServerName == "" {
		opts.ServerName = "jadewatch"
	}

	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			// Pages are served from arbitrary local origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.engine = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger), metrics.Handler())

	r.GET("/", s.handleWelcome)
	r.GET("/livereload", s.handleWebsocket)
	r.GET("/livereload.js", s.handleScript)
	r.GET("/changed", s.handleChanged)
	r.POST("/changed", s.handleChanged)
	r.GET("/metrics", metrics.Exposer())

	return r
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("starting live reload server on %s: %w", s.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("live reload server stopped", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("live reload server listening", slog.String("addr", ln.Addr().String()))

	return nil
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return s.ln.Addr().String()
	}

	return s.opts.Addr
}

// Shutdown stops the HTTP server and disconnects every client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	clients := make([]*client, 0, len(s.clients))

	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	for _, cl := range clients {
		_ = cl.conn.Close()
	}

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// Reload tells every client to refresh path and returns how many were
// notified.
func (s *Server) Reload(path string) int {
	n := s.broadcast(reloadMessage(path))
	metrics.Reloads.Inc()

	s.logger.Debug("live reload sent", slog.String("path", path), slog.Int("clients", n))

	return n
}

// Alert shows text in every connected browser.
func (s *Server) Alert(text string) int {
	return s.broadcast(alertMessage(text))
}

func (s *Server) broadcast(msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for cl := range s.clients {
		select {
		case cl.send <- msg:
			n++
		default:
			s.logger.Warn("dropping live reload message for slow client",
				slog.String("remote", cl.conn.RemoteAddr().String()))
		}
	}

	return n
}

func (s *Server) register(cl *client) {
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	metrics.LiveReloadClients.Inc()
	s.logger.Debug("live reload client connected",
		slog.String("client", cl.id), slog.String("remote", cl.conn.RemoteAddr().String()))
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	_, ok := s.clients[cl]
	delete(s.clients, cl)
	s.mu.Unlock()

	if ok {
		metrics.LiveReloadClients.Dec()
		cl.close()
		s.logger.Debug("live reload client disconnected", slog.String("client", cl.id))
	}
}

func (s *Server) handleWelcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tinylr": "Welcome", "version": s.opts.Version})
}

func (s *Server) handleScript(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", clientScript)
}

type changedRequest struct {
	Files []string `json:"files"`
}

func (s *Server) handleChanged(c *gin.Context) {
	var files []string

	if q := c.Query("files"); q != "" {
		for _, f := range strings.Split(q, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
	}

	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var req changedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		files = append(files, req.Files...)
	}

	for _, f := range files {
		s.Reload(f)
	}

	c.JSON(http.StatusOK, gin.H{"clients": s.Clients(), "files": files})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	cl := &client{id: c.GetString("request_id"), conn: conn, send: make(chan Message, sendBuffer)}
	s.register(cl)

	go s.writeLoop(cl)
	s.readLoop(cl)
}

// readLoop answers the handshake and detects disconnects. It owns the
// client's lifetime.
func (s *Server) readLoop(cl *client) {
	defer func() {
		s.unregister(cl)
		_ = cl.conn.Close()
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed client message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Command {
		case CommandHello:
			select {
			case cl.send <- helloMessage(s.opts.ServerName):
			default:
			}
		case CommandInfo:
			s.logger.Debug("live reload client info", slog.String("client", cl.id), slog.String("url", msg.URL))
		}
	}
}

// writeLoop is the only goroutine writing to the connection.
func (s *Server) writeLoop(cl *client) {
	for msg := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))

		if err := cl.conn.WriteJSON(msg); err != nil {
			_ = cl.conn.Close()
			return
		}
	}

	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// requestID reuses the caller's request ID or assigns a new one. Websocket
// clients keep it as their identity.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}

		c.Set("request_id", rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("requestId", c.GetString("request_id")),
		)
	}
}
