package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/realtime"
)

const streamKeepAlive = 25 * time.Second

// Stream serves realtime events as Server-Sent Events. With ?scope=owner the
// stream carries only events for projects the caller owns.
func (h *Handler) Stream(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	client, err := h.hub.Subscribe(userID, ctx.Query("scope") == "owner")

	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Realtime stream unavailable"})
		return
	}

	defer h.hub.Unsubscribe(client)

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)

	if err := writeSSE(ctx.Writer, realtime.EventConnected, gin.H{"clientId": client.ID, "scope": scopeName(client)}); err != nil {
		return
	}
	ctx.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	done := ctx.Request.Context().Done()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case m, open := <-client.C:
			if !open {
				return false
			}
			return writeSSE(w, m.Name, m.Data) == nil
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-done:
			return false
		}
	})
}

// writeSSE writes one "event: <name>\ndata: <json>\n\n" frame.
func writeSSE(w io.Writer, name string, data interface{}) error {
	payload, err := json.Marshal(data)

	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

func scopeName(c *realtime.Client) string {
	if c.OwnerScope {
		return "owner"
	}
	return "all"
}
