package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"relaygate/internal/web/api"
	"relaygate/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the HTTP surface
type Options struct {
	Rules     api.RuleService
	Devices   api.DeviceStateReader
	Connected func() bool
	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
	APIToken string
	Logger   *zap.Logger
}

type WebServer struct {
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
}

func NewWebServer(opts Options) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("web")

	router := gin.New()
	middlewareManager := middleware.NewMiddlewareManager(logger, opts.APIToken)
	router.Use(middlewareManager.RequestLogger(), middlewareManager.Recovery())

	api.RegisterHealthRoutes(router, opts.Rules, opts.Connected)
	api.RegisterAutomationRoutes(router, middlewareManager, opts.Rules)
	api.RegisterDeviceRoutes(router, middlewareManager, opts.Devices)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return &WebServer{router: router, logger: logger}
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until Shutdown is called
func (ws *WebServer) Start(addr string) error {
	ws.server = &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}
