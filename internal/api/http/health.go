package http

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker reports component problems into a HealthState.
type HealthChecker interface {
	CheckHealth(ctx context.Context, state *domain.HealthState)
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Errors    []string               `json:"errors,omitempty"`
	Info      map[string]interface{} `json:"info,omitempty"`
}

type HealthHandler struct {
	serviceName string
	version     string
	baseDir     string
	checker     HealthChecker
	log         *zap.Logger
}

func NewHealthHandler(serviceName, version, baseDir string, checker HealthChecker, log *zap.Logger) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		baseDir:     baseDir,
		checker:     checker,
		log:         log,
	}
}

func (h *HealthHandler) runChecks(c *gin.Context) *domain.HealthState {
	state := domain.NewHealthState()
	if h.checker == nil {
		return state
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	h.checker.CheckHealth(ctx, state)
	return state
}

// HealthCheck is the JSON summary served on /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	state := h.runChecks(c)

	status, code := "healthy", http.StatusOK
	if !state.IsHealthy() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Service:   h.serviceName,
		Version:   h.version,
		Errors:    state.Errors,
		Info:      state.Info,
	})
}

// LBHeartbeat tells the load balancer the process is up.
func (h *HealthHandler) LBHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

// Heartbeat runs the component health checks.
func (h *HealthHandler) Heartbeat(c *gin.Context) {
	state := h.runChecks(c)
	if !state.IsHealthy() {
		h.log.Warn("heartbeat failed", zap.Strings("errors", state.Errors))
		c.JSON(http.StatusServiceUnavailable, state)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Version serves BASEDIR/version.json, falling back to the configured
// version.
func (h *HealthHandler) Version(c *gin.Context) {
	data, err := os.ReadFile(filepath.Join(h.baseDir, "version.json"))
	if err != nil || !json.Valid(data) {
		c.JSON(http.StatusOK, gin.H{"version": h.version})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// Broken exercises the error path end to end.
func (h *HealthHandler) Broken(c *gin.Context) {
	h.log.Error("intentional exception from /__broken__", zap.String("request_id", c.GetString("request_id")))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "intentional exception"})
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
	r.GET("/__lbheartbeat__", h.LBHeartbeat)
	r.GET("/__heartbeat__", h.Heartbeat)
	r.GET("/__version__", h.Version)
	r.GET("/__broken__", h.Broken)
}
