package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/ml"
	"github.com/franckalain/plateswipe/internal/models"
	"github.com/franckalain/plateswipe/internal/scan"
)

// Resolver is the ingredient lookup the server fronts
type Resolver interface {
	Get(ctx context.Context, barcode int64) (*models.Ingredient, error)
	Search(ctx context.Context, name string, count int) ([]*models.Ingredient, error)
}

type Options struct {
	ScanThreshold int
	StaticDir     string
	Debug         bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the app is not a browser client
	},
}

type Server struct {
	resolver  Resolver
	reader    ml.LabelReader
	threshold int
	log       *logger.Logger
	router    *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session
	closing  bool
	handlers sync.WaitGroup // websocket handlers, hijacked so Shutdown does not track them
}

func New(resolver Resolver, reader ml.LabelReader, opts Options, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if opts.ScanThreshold < 1 {
		opts.ScanThreshold = scan.DefaultThreshold
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		resolver:  resolver,
		reader:    reader,
		threshold: opts.ScanThreshold,
		log:       log.With("component", "Server"),
		sessions:  make(map[string]*session),
	}
	s.router = s.newRouter(opts.StaticDir)
	return s
}

func (s *Server) newRouter(staticDir string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/ws", func(c *gin.Context) {
		s.handleWebSocket(c.Writer, c.Request)
	})

	api := router.Group("/api/ingredients")
	{
		api.GET("/barcode/:barcode", s.handleGetByBarcode)
		api.GET("/search", s.handleSearch)
	}

	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			router.NoRoute(gin.WrapH(http.FileServer(http.Dir(staticDir))))
		}
	}
	return router
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled. On shutdown it closes open scan
// sessions and returns only after their handlers, and the resolutions they started, have finished.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("starting server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeSessions()
		s.handlers.Wait()
		s.log.Info("scan sessions drained")
		return err
	})
	return g.Wait()
}

// register adds sess unless the server is closing
func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess.id] = sess
	return true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	s.closing = true
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
