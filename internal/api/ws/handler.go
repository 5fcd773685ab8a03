package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/dispatch"
)

// inboundRequest is the client-to-server frame starting a request.
type inboundRequest struct {
	Cities []string `json:"cities"`
}

// conn adapts a websocket connection to the delivery.Session interface. The
// connection is not safe for concurrent writers, so Send holds its own lock
// in addition to the registry's per-session serialization; error frames sent
// outside the registry still cannot interleave with bridge pushes.
type conn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) Close() error {
	return c.ws.Close()
}

// Handler terminates streaming sessions and hands inbound requests to the
// dispatcher.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	bridge     *delivery.Bridge
}

// NewHandler creates a websocket Handler.
func NewHandler(dispatcher *dispatch.Dispatcher, bridge *delivery.Bridge) *Handler {
	return &Handler{dispatcher: dispatcher, bridge: bridge}
}

// Register wires the websocket endpoint into the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/weather", websocket.New(h.serve))
}

// serve owns one connection for its lifetime: reads inbound frames, starts
// dispatches, and purges the registry when the remote side goes away.
func (h *Handler) serve(ws *websocket.Conn) {
	session := &conn{id: uuid.NewString(), ws: ws}
	log.Printf("INFO: websocket connection established: %s", session.id)

	defer func() {
		h.bridge.Registry().PurgeSession(session.id)
		_ = ws.Close()
		log.Printf("INFO: websocket connection closed: %s", session.id)
	}()

	if err := session.Send(delivery.ConnectionEstablished(session.id)); err != nil {
		log.Printf("ERROR: sending connection confirmation to %s failed: %v", session.id, err)
		return
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			// Remote close or transport error; the deferred purge makes any
			// in-flight sends for this session no-ops.
			return
		}
		h.handleFrame(session, payload)
	}
}

func (h *Handler) handleFrame(session *conn, payload []byte) {
	log.Printf("INFO: received message from client %s: %s", session.id, payload)

	var req inboundRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(session, "invalid request format")
		return
	}
	if len(req.Cities) == 0 {
		h.sendError(session, "Cities list cannot be empty")
		return
	}

	if _, err := h.dispatcher.DispatchStreaming(context.Background(), req.Cities, session); err != nil {
		if errors.Is(err, dispatch.ErrEmptyCities) {
			h.sendError(session, err.Error())
			return
		}
		log.Printf("ERROR: streaming dispatch failed for session %s: %v", session.id, err)
		h.sendError(session, "Error processing request: "+err.Error())
	}
}

func (h *Handler) sendError(session *conn, message string) {
	if err := session.Send(delivery.ErrorFrame(message)); err != nil {
		log.Printf("ERROR: sending error frame to %s failed: %v", session.id, err)
	}
}
