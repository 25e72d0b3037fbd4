package events

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RegisterRoutes mounts the event feed; rg is expected to be behind auth.
func RegisterRoutes(rg *gin.RouterGroup, hub *Hub) {
	rg.GET("/runs/events", HistoryHandler(hub))
	rg.GET("/runs/stream", WSHandler(hub))
}

func HistoryHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"events": hub.History(),
			"stats":  hub.Stats(),
		})
	}
}

func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		sub := hub.join(ws)
		hub.logger.Debug("run feed subscriber connected", zap.String("remote", c.ClientIP()))

		done := make(chan struct{})
		go func() {
			defer close(done)
			sub.writeLoop()
		}()

		// drain until the client goes away
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.leave(sub)
		<-done
		hub.logger.Debug("run feed subscriber disconnected", zap.String("remote", c.ClientIP()))
	}
}
