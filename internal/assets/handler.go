// Package assets serves the paginated read API over unified assets.
package assets

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Handler struct {
	Repo   *Repo
	Logger *zap.Logger
}

func NewHandler(repo *Repo, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Repo: repo, Logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/data", h.list)
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type metadata struct {
	RequestID    string  `json:"request_id"`
	APILatencyMS float64 `json:"api_latency_ms"`
}

type listResponse struct {
	Data       []models.UnifiedAsset `json:"data"`
	Pagination pagination            `json:"pagination"`
	Metadata   metadata              `json:"metadata"`
}

func (h *Handler) list(c *gin.Context) {
	start := time.Now()
	requestID := uuid.NewString()

	page, ok := parseBounded(c.Query("page"), 1, 1, 0)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be an integer >= 1"})
		return
	}
	limit, ok := parseBounded(c.Query("limit"), DefaultLimit, 1, MaxLimit)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 100"})
		return
	}
	q := ListQuery{Symbol: c.Query("symbol"), Page: page, Limit: limit}

	total, err := h.Repo.Count(c.Request.Context(), q)
	if err != nil {
		h.Logger.Error("count assets failed", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	items, err := h.Repo.List(c.Request.Context(), q)
	if err != nil {
		h.Logger.Error("list assets failed", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.JSON(http.StatusOK, listResponse{
		Data:       items,
		Pagination: pagination{Page: page, Limit: limit, Total: total},
		Metadata: metadata{
			RequestID:    requestID,
			APILatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// parseBounded returns def for an empty value; max <= 0 means unbounded.
func parseBounded(s string, def, min, max int) (int, bool) {
	if strings.TrimSpace(s) == "" {
		return def, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < min || (max > 0 && n > max) {
		return 0, false
	}
	return n, true
}
