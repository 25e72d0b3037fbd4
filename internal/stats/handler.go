package stats

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Trigger starts a pipeline run without waiting for it.
type Trigger interface {
	Trigger() bool
}

type Handler struct {
	Service *Service
	Runs    Trigger
	Logger  *zap.Logger
}

func NewHandler(svc *Service, runs Trigger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Runs: runs, Logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.health)
	rg.GET("/stats", h.stats)
	rg.GET("/metrics", h.metrics)
	rg.GET("/runs", h.runs)
	rg.GET("/compare-runs", h.compare)
	rg.POST("/etl/run", h.trigger)
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "connected"
	if err := h.Service.Ping(ctx); err != nil {
		dbStatus = "disconnected: " + err.Error()
	}

	etl := gin.H{"status": "unknown", "last_run": nil, "error": nil}
	if latest, err := h.Service.Latest(ctx); err != nil {
		h.Logger.Warn("health: latest run lookup failed", zap.Error(err))
	} else if latest != nil {
		etl["status"] = latest.Status
		etl["last_run"] = latest.LastRun
		etl["error"] = latest.ErrorMessage
	}

	c.JSON(http.StatusOK, gin.H{
		"database": dbStatus,
		"etl":      etl,
	})
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		h.Logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) metrics(c *gin.Context) {
	text, err := h.Service.MetricsText(c.Request.Context())
	if err != nil {
		h.Logger.Error("metrics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics failed"})
		return
	}
	c.String(http.StatusOK, text)
}

func (h *Handler) runs(c *gin.Context) {
	runs, err := h.Service.Runs(c.Request.Context(), parseInt(c.Query("limit"), DefaultRunsLimit))
	if err != nil {
		h.Logger.Error("list runs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) compare(c *gin.Context) {
	id1, err1 := strconv.ParseInt(c.Query("run_id_1"), 10, 64)
	id2, err2 := strconv.ParseInt(c.Query("run_id_2"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id_1 and run_id_2 must be integers"})
		return
	}

	cmp, err := h.Service.Compare(c.Request.Context(), id1, id2)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.Logger.Error("compare runs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "compare failed"})
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *Handler) trigger(c *gin.Context) {
	queued := h.Runs.Trigger()
	c.JSON(http.StatusAccepted, gin.H{
		"message": "ETL process triggered in background",
		"queued":  queued,
	})
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
