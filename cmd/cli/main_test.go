package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoetl/pkg/models"
)

func TestFetchAllPagesThroughData(t *testing.T) {
	const total = 130
	var sawKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = r.Header.Get("X-API-Key")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var resp dataResponse
		for i := (page - 1) * limit; i < total && i < page*limit; i++ {
			resp.Data = append(resp.Data, models.UnifiedAsset{ID: strconv.Itoa(i), Symbol: "S" + strconv.Itoa(i)})
		}
		resp.Pagination.Page, resp.Pagination.Limit, resp.Pagination.Total = page, limit, total
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	items, err := fetchAll(context.Background(), srv.Client(), srv.URL, credentials{apiKey: "k"}, "")
	require.NoError(t, err)
	assert.Len(t, items, total)
	assert.Equal(t, "k", sawKey)
}

func TestDoUsesBearerTokenAndSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	require.NoError(t, doJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, credentials{token: "tok"}, nil, &out))
	assert.Equal(t, true, out["ok"])

	err := doJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, credentials{}, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	require.Error(t, saveToken(path, tokenData{}))
	require.NoError(t, saveToken(path, tokenData{Token: "abc"}))

	tok, err := readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	require.NoError(t, clearToken(path))
	require.NoError(t, clearToken(path))
}
