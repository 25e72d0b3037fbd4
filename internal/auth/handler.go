package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Keys   *KeyVerifier
	Tokens TokenService
}

func NewHandler(keys *KeyVerifier, tokens TokenService) *Handler {
	return &Handler{Keys: keys, Tokens: tokens}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/token", h.token)
}

type tokenReq struct {
	APIKey   string `json:"api_key"`
	Operator string `json:"operator"`
}

// token exchanges the API key for an operator token.
func (h *Handler) token(c *gin.Context) {
	var req tokenReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	key := c.GetHeader(HeaderAPIKey)
	if key == "" {
		key = req.APIKey
	}
	if key == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authenticated"})
		return
	}
	if !h.Keys.Verify(key) {
		c.JSON(http.StatusForbidden, gin.H{"error": "could not validate credentials"})
		return
	}

	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "operator"
	}

	token, exp, err := h.Tokens.Sign(operator)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "bearer",
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
