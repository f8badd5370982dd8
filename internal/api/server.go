// Package api serves the reconciler over HTTP.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/parsers"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Server wires the reconciler, the parser and the optional history store to gin
type Server struct {
	config     *Config
	classifier *classifier.Classifier
	parser     *parsers.Parser
	store      storage.Repository
	limiter    *RateLimiter
	logger     logger.Logger

	mu      sync.RWMutex
	service *reconciler.Service
}

// Options configures NewServer. Store may be nil, which disables the history endpoints.
type Options struct {
	Config     *Config
	Reconciler *reconciler.Config
	Classifier *classifier.Classifier
	Parser     *parsers.Parser
	Store      storage.Repository
}

// NewServer validates the options and builds the reconciliation service
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(nil)
	}
	if opts.Parser == nil {
		p, err := parsers.NewParser(nil, nil)
		if err != nil {
			return nil, err
		}
		opts.Parser = p
	}

	s := &Server{
		config:     opts.Config,
		classifier: opts.Classifier,
		parser:     opts.Parser,
		store:      opts.Store,
		logger:     logger.WithComponent("api"),
	}
	if opts.Config.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.Config.RateLimit, opts.Config.RateBurst)
	}
	if err := s.UpdateReconciler(opts.Reconciler); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateReconciler swaps the reconciliation settings; requests in flight keep the old ones
func (s *Server) UpdateReconciler(cfg *reconciler.Config) error {
	svc, err := s.newService(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.service = svc
	s.mu.Unlock()

	s.logger.WithField("config", svc.Config().String()).Info("Reconciler settings applied")
	return nil
}

// ReconcilerConfig returns a copy of the active settings
func (s *Server) ReconcilerConfig() *reconciler.Config {
	return s.reconciler().Config()
}

func (s *Server) newService(cfg *reconciler.Config) (*reconciler.Service, error) {
	svc, err := reconciler.NewService(cfg, s.classifier)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		svc.WithHistory(s.store)
	}
	return svc, nil
}

func (s *Server) reconciler() *reconciler.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	gin.SetMode(s.config.Mode)

	router := gin.New()
	router.MaxMultipartMemory = s.config.MaxUploadBytes
	router.Use(gin.Recovery(), s.requestContext())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	{
		v1.POST("/reconcile", s.handleReconcile)
		v1.POST("/reconcile/batch", s.handleBatch)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/radar", s.handleRadar)
	}
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.InternalError(errors.CodeUnexpectedError, "listen", err).WithContext("addr", s.config.Addr)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	return nil
}

const loggerKey = "api.logger"

// requestContext assigns a request id, attaches a request logger and logs the outcome
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		requestMeta(c)["request_id"] = id

		log := s.logger.WithFields(logger.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		c.Set(loggerKey, log)

		c.Next()

		log.WithFields(logger.Fields{
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"duration":  time.Since(start).String(),
		}).Debug("Request handled")
	}
}

func logFrom(c *gin.Context) logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.WithComponent("api")
}
