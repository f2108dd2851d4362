// ABOUTME: Per-connection read and write pumps over one session manager
// ABOUTME: All writes are serialized through the write pump; reads dispatch client frames

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/slatelearn/messaging/internal/messaging"
	"github.com/slatelearn/messaging/internal/session"
)

const sendBufSize = 32

// conn is one live websocket connection bound to one session.
type conn struct {
	ws     *websocket.Conn
	mgr    *session.Manager
	cfg    Config
	logger *slog.Logger

	// send carries out-of-band frames (errors, pongs) to the write pump.
	send chan *Frame
}

func newConn(ws *websocket.Conn, mgr *session.Manager, cfg Config, logger *slog.Logger) *conn {
	return &conn{
		ws:     ws,
		mgr:    mgr,
		cfg:    cfg,
		logger: logger,
		send:   make(chan *Frame, sendBufSize),
	}
}

// run starts the session and pumps frames until the connection drops.
// The session is closed on every exit path, releasing its subscription.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.mgr.Close()
	defer c.ws.Close(websocket.StatusNormalClosure, "")

	if err := c.mgr.Start(ctx); err != nil {
		c.logger.Warn("session start failed", "error", err)
		c.ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	<-writeDone
}

// readPump reads client frames until the connection drops or ctx ends.
func (c *conn) readPump(ctx context.Context) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				c.logger.Debug("client disconnected")
			} else {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		c.handleFrame(ctx, &frame)
	}
}

// writePump pushes a fresh snapshot after every session change, sends
// out-of-band frames, and pings idle connections.
func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	// Initial snapshot so the client renders without waiting for a change
	if !c.writeSnapshot(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.mgr.Changes():
			if !c.writeSnapshot(ctx) {
				return
			}

		case frame := <-c.send:
			if !c.writeFrame(ctx, frame) {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *conn) writeSnapshot(ctx context.Context) bool {
	frame, err := NewFrame(FrameSessionSnapshot, snapshotFrom(c.mgr))
	if err != nil {
		c.logger.Error("snapshot encoding failed", "error", err)
		return false
	}
	return c.writeFrame(ctx, frame)
}

func (c *conn) writeFrame(ctx context.Context, frame *Frame) bool {
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.ws, frame); err != nil {
		c.logger.Debug("write failed", "error", err, "frame_type", frame.Type)
		return false
	}
	return true
}

// handleFrame dispatches one client frame. Failures answer with an error
// frame; only transport problems end the connection.
func (c *conn) handleFrame(ctx context.Context, frame *Frame) {
	switch frame.Type {
	case FrameMessageSend:
		var p SendPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid message.send payload")
			return
		}
		if _, err := c.mgr.Send(ctx, p.RecipientID, p.Content); err != nil {
			if messaging.IsValidation(err) {
				c.sendError("INVALID_MESSAGE", err.Error())
			} else {
				c.logger.Warn("send failed", "error", err)
				c.sendError("SEND_FAILED", "message could not be delivered")
			}
		}

	case FrameConversationSelect:
		var p SelectPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.select payload")
			return
		}
		if p.ConversationID == "" {
			c.sendError("INVALID_PAYLOAD", "conversation_id is required")
			return
		}
		if err := c.mgr.Select(ctx, p.ConversationID); err != nil {
			c.sendError("SELECT_FAILED", "conversation could not be opened")
		}

	case FramePing:
		c.sendFrame(&Frame{Type: FramePong, Timestamp: time.Now().Unix()})

	default:
		c.sendError("UNKNOWN_FRAME", "unknown frame type: "+frame.Type)
	}
}

func (c *conn) sendError(code, message string) {
	frame, err := NewFrame(FrameError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.sendFrame(frame)
}

// sendFrame queues a frame for the write pump without blocking.
func (c *conn) sendFrame(frame *Frame) {
	select {
	case c.send <- frame:
	default:
		c.logger.Debug("dropping frame for slow connection", "frame_type", frame.Type)
	}
}
