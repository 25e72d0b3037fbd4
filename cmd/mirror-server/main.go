package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cryptoetl/pkg/utils"
)

// Serves recorded upstream payloads so the pipeline can run offline:
//
//	COINPAPRIKA_URL=http://localhost:9000/v1/tickers
//	COINGECKO_URL=http://localhost:9000/api/v3/coins/markets
func main() {
	dir := flag.String("dir", "data/mirror", "directory holding coinpaprika.json and coingecko.json")
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	logger := utils.NewLogger(utils.LoadServerConfig().Env)
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/v1/tickers", serveFile(filepath.Join(*dir, "coinpaprika.json")))
	router.GET("/api/v3/coins/markets", serveFile(filepath.Join(*dir, "coingecko.json")))

	logger.Info("mirror-server listening", zap.String("addr", *addr), zap.String("dir", *dir))
	if err := http.ListenAndServe(*addr, router); err != nil {
		logger.Fatal("mirror-server stopped", zap.Error(err))
	}
}

func serveFile(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := os.ReadFile(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read " + filepath.Base(path) + ": " + err.Error()})
			return
		}
		// validate JSON so a bad file doesn't silently break
		var tmp []any
		if err := json.Unmarshal(b, &tmp); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": filepath.Base(path) + " is not a JSON array: " + err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", b)
	}
}
