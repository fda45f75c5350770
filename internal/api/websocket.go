package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/jobs"
	"github.com/ifc-inspector/inspector/internal/models"
)

// WebSocket message types for the job event stream (server -> client)
const (
	MsgTypeStatus   = "status"
	MsgTypeComplete = "complete"
)

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
)

// WSMessage is one frame of the job event stream
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// HandleJobEvents upgrades to a WebSocket and pushes every status change of a
// job. The payload matches the status endpoint body. The last frame has type
// "complete" and the server closes the connection after it.
func (h *JobHandlerImpl) HandleJobEvents(c echo.Context) error {
	id := c.Param("id")
	events, cancel, err := h.jobs.Subscribe(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return NewNotFoundError("job", id)
		}
		return NewInternalError("failed to subscribe", err)
	}
	defer cancel()

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	done := h.metrics.StreamOpened()
	defer done()

	log := h.logger.With(zap.String("job_id", id))
	log.Debug("event stream opened")

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("event stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(writeWait))
				return nil
			}
			if err := h.send(ws, ev); err != nil {
				log.Debug("event stream write failed", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-gone:
			log.Debug("event stream closed by client")
			return nil
		}
	}
}

func (h *JobHandlerImpl) send(ws *websocket.Conn, job models.Job) error {
	payload, err := json.Marshal(models.StatusResponse{
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
	if err != nil {
		return err
	}

	msgType := MsgTypeStatus
	if job.Status.IsTerminal() {
		msgType = MsgTypeComplete
	}

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(WSMessage{
		Type:      msgType,
		ID:        job.ID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}
