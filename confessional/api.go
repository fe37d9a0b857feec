package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	pprofPrefix      = "/debug/pprof"
	apiHealthCheck   = "/healthz"
	apiPathStats     = "/api/stats"
	apiPathReports   = "/api/reports"
	xRequestIDHeader = "X-Request-ID"
)

// API is the optional status server, reporting on the gateway connection
// and in-memory state. It never exposes the authorship ledger.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	cf         *Confessional

	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type statsResponse struct {
	StoreStats
	DiscordStats
	PendingContactRequests int   `json:"pending_contact_requests"`
	Reports                int64 `json:"reports"`
}

type httpError struct {
	Error string `json:"error"`
}

func newAPI(cf *Confessional, config *APIConfig, handler slog.Handler) *API {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		cf:             cf,
		logger:         slog.New(handler).With(loggerNameKey, "api"),
		requestMetrics: map[string]int{},
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
	)
	if len(config.CORSAllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = config.CORSAllowOrigins
		corsConfig.AllowMethods = []string{http.MethodGet}
		r.Use(cors.New(corsConfig))
	}
	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathStats, api.stats)
	r.GET(apiPathReports, api.reports)
	return api
}

// Serve listens on the configured address and serves until the
// server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving API", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		healthCheckResponse{DiscordGatewayConnected: a.cf.discord.connected.Load()},
	)
}

func (a *API) stats(c *gin.Context) {
	rv := statsResponse{
		StoreStats:             a.cf.store.Stats(),
		DiscordStats:           a.cf.discord.Stats(),
		PendingContactRequests: a.cf.contacts.len(),
	}
	if a.cf.reports != nil {
		n, err := a.cf.reports.Count(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error counting reports"})
			return
		}
		rv.Reports = n
	}
	c.JSON(http.StatusOK, rv)
}

func (a *API) reports(c *gin.Context) {
	if a.cf.reports == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "reports database disabled"})
		return
	}
	messageID := c.Query("message_id")
	if !isSnowflake(messageID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid message_id"})
		return
	}
	reports, err := a.cf.reports.ForMessage(c.Request.Context(), messageID)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error getting reports"})
		return
	}
	c.JSON(http.StatusOK, reports)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginLoggingMiddleware logs each request with its duration and response
// status, including any errors added to the gin context
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
				"user_agent", c.Request.UserAgent(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), requestLogger))
		c.Next()

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", time.Since(start),
				tint.Err(errors.New(errs.String())),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", time.Since(start),
			response,
		)
	}
}

// metricMiddleware counts requests per method and path
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.requestMetricsMu.Lock()
		a.requestMetrics[c.Request.Method+" "+c.Request.URL.Path]++
		a.requestMetricsMu.Unlock()
		c.Next()
	}
}
