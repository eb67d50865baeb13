package server

import (
	"OnnxDepth/depth"
	"OnnxDepth/engine"
	"OnnxDepth/imageio"
	iface "OnnxDepth/interface"
	"OnnxDepth/logger"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxUpload   = 20 * 1024 * 1024
	DefaultIdleTimeout = 30 * time.Second
)

type Options struct {
	ResizeToInput  bool
	MaxUploadBytes int64
	// IdleTimeout closes a websocket stream that sent nothing for this long.
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// Server exposes a depth pipeline over HTTP. Inference is serialized: the
// underlying session runs one image at a time.
type Server struct {
	mu       sync.Mutex
	pipeline *depth.Pipeline
	backend  iface.Backend
	codec    imageio.Codec
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(pipeline *depth.Pipeline, backend iface.Backend, codec imageio.Codec, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUpload
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.Log()
	}
	return &Server{
		pipeline: pipeline,
		backend:  backend,
		codec:    codec,
		opts:     opts,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/engine", s.handleEngine)
	r.POST("/api/depth", s.handleDepth)
	r.GET("/ws/depth", s.handleStream)
	return r
}

// Run serves on port until ctx ends.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) estimate(ctx context.Context, img iface.ImageData, resizeToInput bool) (*depth.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Estimate(ctx, img, resizeToInput)
}

func (s *Server) handleEngine(c *gin.Context) {
	cfg := s.backend.CheckConfig()
	variant := s.pipeline.Variant()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"modelPath":     cfg.ModelPath,
		"inputName":     cfg.InputName,
		"outputName":    cfg.OutputName,
		"threads":       cfg.Threads,
		"deviceId":      cfg.DeviceID,
		"providers":     cfg.Providers,
		"state":         engine.StateName(cfg.State),
		"variant":       variant.Name,
		"policy":        variant.Policy.String(),
		"resizeToInput": s.opts.ResizeToInput,
	}})
}

// failure maps a pipeline error to an HTTP status and a metric label.
func failure(err error) (int, string) {
	switch {
	case errors.Is(err, imageio.ErrDecode), errors.Is(err, depth.ErrInvariantViolation):
		return http.StatusBadRequest, "decode"
	case errors.Is(err, depth.ErrUnexpectedBatchSize),
		errors.Is(err, depth.ErrUnexpectedShape),
		errors.Is(err, depth.ErrUnsupportedRank):
		return http.StatusUnprocessableEntity, "output"
	case errors.Is(err, depth.ErrInferenceFailed):
		return http.StatusInternalServerError, "inference"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
