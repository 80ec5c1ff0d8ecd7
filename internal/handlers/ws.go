package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pledgehub/pledgehub/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type wsFrame struct {
	Type      string      `json:"type"`
	ProjectID uint        `json:"project_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	if origin == "" {
		return true
	}

	for _, allowed := range h.cfg.Origins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// WebSocket carries the same events as Stream over a websocket.
func (h *Handler) WebSocket(c *gin.Context) {
	userID, ok := currentUserID(c)

	if !ok {
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client, err := h.hub.Subscribe(userID, c.Query("scope") == "owner")
	if err != nil {
		log.Printf("ws: subscribe failed for user %d: %v", userID, err)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "realtime unavailable"), time.Now().Add(writeWait))
		return
	}
	defer h.hub.Unsubscribe(client)

	// Set up connection parameters
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("ws: failed to set initial read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := writeFrame(conn, wsFrame{Type: realtime.EventConnected, Data: gin.H{"clientId": client.ID, "scope": scopeName(client)}}); err != nil {
		log.Printf("ws: failed to send welcome message: %v", err)
		return
	}

	closed := make(chan struct{})
	go readPump(conn, client.ID, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case m, open := <-client.C:
			if !open {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, wsFrame{Type: m.Name, ProjectID: m.ProjectID, Data: m.Data}); err != nil {
				log.Printf("ws: write to client %s failed: %v", client.ID, err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("ws: ping to client %s failed: %v", client.ID, err)
				return
			}
		case <-closed:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// readPump drains client frames so pong and close control messages are
// processed. It closes done when the connection ends.
func readPump(conn *websocket.Conn, clientID string, done chan<- struct{}) {
	defer close(done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: client %s error: %v", clientID, err)
			}
			return
		}
	}
}
