// Package dashboardapi exposes per-user staking dashboards over HTTP behind
// TAuth session cookies.
package dashboardapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/dashboards"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/telemetry"
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	requestIDHeader  = "X-Request-ID"
	unmatchedRoute   = "unmatched"

	errorCodeUnauthorized     = "unauthorized"
	errorCodeInvalidPayload   = "invalid_payload"
	errorCodeInvalidIdentity  = "invalid_identity"
	errorCodeInvalidSelection = "invalid_selection"
	errorCodeInvalidPrice     = "invalid_price"
	errorCodeNotConnected     = "not_connected"
	errorCodeModalClosed      = "modal_closed"
	errorCodeNoSelection      = "no_selection"
	errorCodeUnavailable      = "unavailable"
	errorCodeInternal         = "internal_error"

	eventSubscribed = "subscribed"
	eventSlice      = "slice"
)

// Server is the gin façade over a dashboard registry.
type Server struct {
	cfg       Config
	logger    *zap.Logger
	registry  *dashboards.Registry
	metrics   *telemetry.Metrics
	validator *sessionvalidator.Validator
	now       func() int64

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithMetrics exposes collectors on /metrics and counts requests.
func WithMetrics(metrics *telemetry.Metrics) ServerOption {
	return func(server *Server) {
		server.metrics = metrics
	}
}

// WithClock overrides the clock used to render lock state.
func WithClock(now func() int64) ServerOption {
	return func(server *Server) {
		if now != nil {
			server.now = now
		}
	}
}

// NewServer validates cfg and builds the session validator.
func NewServer(cfg Config, registry *dashboards.Registry, options ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: dashboard registry is nil", staking.ErrInvalidServiceConfig)
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	server := &Server{
		cfg:       cfg,
		logger:    zap.NewNop(),
		registry:  registry,
		validator: validator,
		now:       func() int64 { return time.Now().UTC().Unix() },
		shutdown:  make(chan struct{}),
	}
	for _, option := range options {
		option(server)
	}
	return server, nil
}

// Run serves HTTP until ctx ends, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Handler(),
	}

	sweepContext, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go server.registry.Run(sweepContext, server.cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("dashboard api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		server.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop ends open event streams.
func (server *Server) Stop() {
	server.shutdownOnce.Do(func() { close(server.shutdown) })
}

// Handler builds the router.
func (server *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.requestIDMiddleware())
	if server.metrics != nil {
		router.Use(server.metricsMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "dashboards": server.registry.Len()})
	})
	if server.metrics != nil {
		router.GET("/metrics", gin.WrapH(server.metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(server.validator.GinMiddleware(claimsContextKey))

	api.GET("/dashboard", server.handleDashboard)
	api.GET("/events", server.handleEvents)
	api.POST("/wallet", server.handleWallet)
	api.POST("/connect-prompt/open", server.handleOpenPrompt)
	api.POST("/connect-prompt/close", server.handleClosePrompt)
	api.GET("/pools/eligible", server.handleEligiblePools)
	api.POST("/selection", server.handleSelectPool)
	api.DELETE("/selection", server.handleClearSelection)
	api.POST("/modal/open", server.handleOpenModal)
	api.POST("/modal/close", server.handleCloseModal)
	api.POST("/modal/selection", server.handleModalSelection)
	api.POST("/modal/confirm", server.handleConfirm)
	api.GET("/metrics/global", server.handleGlobalMetrics)
	api.GET("/metrics/user", server.handleUserMetrics)

	return router
}

func (server *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := strings.TrimSpace(ctx.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Header(requestIDHeader, requestID)
		ctx.Next()
	}
}

func (server *Server) metricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		server.metrics.ObserveRequest(route, ctx.Writer.Status())
	}
}

func (server *Server) handleDashboard(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleWallet(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	var request walletRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	state := staking.WalletState{Connected: request.Connected}
	if strings.TrimSpace(request.Identity) != "" {
		identity, err := staking.NewIdentity(request.Identity)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		state.Identity = identity
	}
	// Fetches outlive the request that started them.
	transition, err := dashboard.UpdateWallet(context.WithoutCancel(ctx.Request.Context()), state)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transition": string(transition),
		"dashboard":  dashboards.Render(dashboard, server.now()),
	})
}

func (server *Server) handleOpenPrompt(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	dashboard.OpenConnectPrompt()
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleClosePrompt(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	dashboard.CloseConnectPrompt()
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleEligiblePools(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	eligible, err := dashboard.EligiblePools()
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	snapshot := dashboard.SessionSnapshot()
	pools := make([]dashboards.PoolView, 0, len(eligible))
	for _, indexed := range eligible {
		pools = append(pools, dashboards.RenderPool(indexed.Index, indexed.Pool, snapshot))
	}
	ctx.JSON(http.StatusOK, gin.H{"pools": pools})
}

func (server *Server) handleSelectPool(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	index, ok := bindSelection(ctx)
	if !ok {
		return
	}
	if err := dashboard.SelectPool(index); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleClearSelection(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	if err := dashboard.ClearSelection(); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleOpenModal(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	if err := dashboard.OpenModal(); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleCloseModal(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	dashboard.CloseModal()
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleModalSelection(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	index, ok := bindSelection(ctx)
	if !ok {
		return
	}
	if err := dashboard.SelectPoolInModal(index); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondDashboard(ctx, dashboard)
}

func (server *Server) handleConfirm(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	index, err := dashboard.ConfirmSelection()
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"selected_pool_index": index,
		"dashboard":           dashboards.Render(dashboard, server.now()),
	})
}

func (server *Server) handleGlobalMetrics(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	metrics, err := dashboard.GlobalMetrics()
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"metrics": dashboards.RenderMetrics(metrics)})
}

// handleUserMetrics accepts an optional ?price= override for what-if views.
func (server *Server) handleUserMetrics(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	price := dashboard.CurrentPrice()
	if raw := strings.TrimSpace(ctx.Query("price")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPrice, "price must be a non-negative decimal"))
			return
		}
		price = parsed
	}
	metrics, err := dashboard.UserMetrics(price)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"metrics": dashboards.RenderMetrics(metrics)})
}

// handleEvents streams slice updates as server-sent events until the client
// goes away or the server stops.
func (server *Server) handleEvents(ctx *gin.Context) {
	dashboard, ok := server.dashboardFor(ctx)
	if !ok {
		return
	}
	updates, unsubscribe := dashboard.Subscribe()
	defer unsubscribe()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Status(http.StatusOK)
	ctx.SSEvent(eventSubscribed, gin.H{"identity": dashboard.SessionSnapshot().Identity.String()})
	ctx.Writer.Flush()

	requestDone := ctx.Request.Context().Done()
	ctx.Stream(func(writer io.Writer) bool {
		select {
		case <-requestDone:
			return false
		case <-server.shutdown:
			return false
		case update, open := <-updates:
			if !open {
				return false
			}
			ctx.SSEvent(eventSlice, gin.H{
				"slice":  string(update.Slice),
				"cycle":  update.Cycle,
				"failed": update.Failed,
			})
			return true
		}
	})
}

func (server *Server) dashboardFor(ctx *gin.Context) (*staking.Dashboard, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return nil, false
	}
	dashboard, err := server.registry.Get(claims.GetUserID())
	if err != nil {
		server.respondError(ctx, err)
		return nil, false
	}
	return dashboard, true
}

func (server *Server) respondDashboard(ctx *gin.Context, dashboard *staking.Dashboard) {
	ctx.JSON(http.StatusOK, gin.H{"dashboard": dashboards.Render(dashboard, server.now())})
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		server.logger.Error("dashboard request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("request_id", ctx.Writer.Header().Get(requestIDHeader)),
			zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, staking.ErrNotConnected):
		return http.StatusConflict, errorCodeNotConnected
	case errors.Is(err, staking.ErrInvalidIdentity), errors.Is(err, dashboards.ErrInvalidUserID):
		return http.StatusUnprocessableEntity, errorCodeInvalidIdentity
	case errors.Is(err, staking.ErrInvalidSelection), errors.Is(err, staking.ErrOutOfRange):
		return http.StatusUnprocessableEntity, errorCodeInvalidSelection
	case errors.Is(err, staking.ErrModalClosed):
		return http.StatusUnprocessableEntity, errorCodeModalClosed
	case errors.Is(err, staking.ErrNoSelection):
		return http.StatusUnprocessableEntity, errorCodeNoSelection
	case errors.Is(err, dashboards.ErrRegistryClosed):
		return http.StatusServiceUnavailable, errorCodeUnavailable
	default:
		return http.StatusInternalServerError, errorCodeInternal
	}
}

func bindSelection(ctx *gin.Context) (int, bool) {
	var request selectionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.Index == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body with index"))
		return 0, false
	}
	return *request.Index, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type walletRequest struct {
	Identity  string `json:"identity"`
	Connected bool   `json:"connected"`
}

type selectionRequest struct {
	Index *int `json:"index"`
}
