package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cryptoetl/pkg/utils"
)

func testConfig() utils.AuthConfig {
	return utils.AuthConfig{
		APIKey:      "s3cret",
		JWTSecret:   "jwt-secret",
		JWTIssuer:   "cryptoetl",
		JWTDuration: time.Hour,
	}
}

func newTestRouter(t *testing.T, cfg utils.AuthConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keys, err := NewKeyVerifier(cfg)
	require.NoError(t, err)
	tokens := NewTokenService(cfg)

	r := gin.New()
	NewHandler(keys, tokens).RegisterRoutes(r.Group("/auth"))
	api := r.Group("", Middleware(keys, tokens))
	api.GET("/ping", func(c *gin.Context) {
		op := ""
		if cl := ClaimsFrom(c); cl != nil {
			op = cl.Operator
		}
		c.JSON(http.StatusOK, gin.H{"operator": op})
	})
	return r
}

func request(r http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewKeyVerifierRequiresKey(t *testing.T) {
	_, err := NewKeyVerifier(utils.AuthConfig{})
	require.ErrorIs(t, err, utils.ErrNoAPIKey)

	_, err = NewKeyVerifier(utils.AuthConfig{APIKeyBcrypt: "not-a-hash"})
	require.Error(t, err)
}

func TestKeyVerifierBcrypt(t *testing.T) {
	hash, err := HashKey("hashed-key")
	require.NoError(t, err)
	_, err = bcrypt.Cost([]byte(hash))
	require.NoError(t, err)

	v, err := NewKeyVerifier(utils.AuthConfig{APIKeyBcrypt: hash})
	require.NoError(t, err)
	assert.True(t, v.Verify("hashed-key"))
	assert.False(t, v.Verify("wrong"))
	assert.False(t, v.Verify(""))
}

func TestMiddlewareAPIKey(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := request(r, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"not authenticated"}`, w.Body.String())

	w = request(r, http.MethodGet, "/ping", "", map[string]string{HeaderAPIKey: "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"could not validate credentials"}`, w.Body.String())

	w = request(r, http.MethodGet, "/ping", "", map[string]string{HeaderAPIKey: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenFlow(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := request(r, http.MethodPost, "/auth/token", `{"operator":"alice"}`, map[string]string{HeaderAPIKey: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = request(r, http.MethodGet, "/ping", "", map[string]string{"Authorization": "Bearer " + resp.Token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"operator":"alice"}`, w.Body.String())

	w = request(r, http.MethodGet, "/ping", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokenRequiresValidKey(t *testing.T) {
	r := newTestRouter(t, testConfig())

	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/auth/token", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/auth/token", `{"api_key":"bad"}`, nil).Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/auth/token", `{"api_key":"s3cret"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, request(r, http.MethodPost, "/auth/token", `{`, nil).Code)
}

func TestParseRejectsOtherSecretAndAlg(t *testing.T) {
	ts := NewTokenService(testConfig())
	tok, _, err := ts.Sign("bob")
	require.NoError(t, err)

	other := ts
	other.Secret = []byte("different")
	_, err = other.Parse(tok)
	require.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Operator: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Parse(none)
	require.Error(t, err)

	expired := ts
	expired.Duration = -time.Minute
	tok, _, err = expired.Sign("late")
	require.NoError(t, err)
	_, err = ts.Parse(tok)
	require.Error(t, err)
}
