package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	// dashboards are served from other origins; the bearer token is checked before the upgrade
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSController upgrades dashboard connections onto the hub
type WSController struct {
	hub *Hub
	log logrus.FieldLogger
}

// NewWSController creates the websocket controller
func NewWSController(hub *Hub, log logrus.FieldLogger) *WSController {
	return &WSController{hub: hub, log: log}
}

// ServeStock streams committed stock events
// GET /ws/stock
func (wc *WSController) ServeStock(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wc.log.WithError(err).Warn("ws.upgrade_failed")
		return
	}

	actor := actorFrom(c)
	wc.hub.AddClient(conn)
	wc.log.WithFields(logrus.Fields{"actor": actor.ID, "clients": wc.hub.GetClientsCount()}).Info("ws.connected")
	defer func() {
		wc.hub.RemoveClient(conn)
		wc.log.WithFields(logrus.Fields{"actor": actor.ID, "clients": wc.hub.GetClientsCount()}).Info("ws.disconnected")
	}()

	// the read loop only detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wc.log.WithError(err).Warn("ws.read_failed")
			}
			return
		}
	}
}
