package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/learnquest/proctoring-engine/internal/application/engine"
	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

const (
	// wsMaxMessageSize bounds one inbound frame. Video frames are JPEG
	// stills, so 1 MB of base64 is plenty.
	wsMaxMessageSize = 1 << 20

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsOutboundBuffer is the per-connection send queue. A slow reader
	// loses score updates rather than stalling the session worker.
	wsOutboundBuffer = 32

	// wsDetectorTimeout caps one detector round trip so a stuck model
	// cannot block the read loop past the next frame.
	wsDetectorTimeout = 3 * time.Second
)

// wsInbound is one message from the exam client.
type wsInbound struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// wsOutbound is one message to the exam client.
type wsOutbound struct {
	Type          string            `json:"type"`
	BehaviorScore float64           `json:"behavior_score,omitempty"`
	Result        map[string]any    `json:"result,omitempty"`
	Violations    []violation.Event `json:"violations,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// handleProctoringWS upgrades the connection and runs the proctoring
// channel for one (user, course) session. A second connection for the same
// key is rejected while the first is attached; after a drop, reconnecting
// within the grace window resumes the same session and score.
func (s *Server) handleProctoringWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := session.Key{UserID: vars["userID"], CourseID: vars["courseID"]}
	if err := key.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_key", "user and course IDs are required")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed",
			logger.UserID(key.UserID),
			logger.CourseID(key.CourseID),
			logger.Err(err),
		)
		return
	}

	log := s.logger.With(logger.UserID(key.UserID), logger.CourseID(key.CourseID))

	worker, err := s.deps.Registry.GetOrCreate(key, time.Now())
	if err != nil {
		closeWithReason(conn, websocket.ClosePolicyViolation, wsRejectReason(err))
		return
	}

	if err := worker.Attach(); err != nil {
		closeWithReason(conn, websocket.ClosePolicyViolation, wsRejectReason(err))
		return
	}

	log = log.WithSessionID(worker.Status().SessionID)
	log.Info("proctoring channel open")

	c := &wsConn{
		server:   s,
		conn:     conn,
		worker:   worker,
		log:      log,
		outbound: make(chan wsOutbound, wsOutboundBuffer),
		done:     make(chan struct{}),
	}

	go c.writeLoop()
	c.send(wsOutbound{
		Type:          "session_started",
		BehaviorScore: worker.Status().BehaviorScore,
	})

	c.readLoop(r.Context())

	worker.Detach(time.Now())
	close(c.done)
	conn.Close()
	log.Info("proctoring channel closed")
}

func wsRejectReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrDuplicateSession):
		return "an active proctoring session already exists for this user and course"
	case errors.Is(err, shared.ErrAlreadyAttached):
		return "another client is already attached to this session"
	case errors.Is(err, shared.ErrSessionClosed):
		return "session is closed"
	default:
		return "session unavailable"
	}
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// wsConn is one live proctoring connection.
type wsConn struct {
	server   *Server
	conn     *websocket.Conn
	worker   *engine.Worker
	log      *logger.Logger
	outbound chan wsOutbound
	done     chan struct{}
}

// send queues an outbound message without blocking. Runs on the read loop
// and on the session worker goroutine, so it must never wait on the socket.
func (c *wsConn) send(msg wsOutbound) {
	select {
	case c.outbound <- msg:
	default:
		c.log.Debug("outbound queue full, dropping message", logger.String("type", msg.Type))
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read failed", logger.Err(err))
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(wsOutbound{Type: "error", Message: "invalid message"})
			continue
		}

		if err := c.dispatch(ctx, msg); err != nil {
			if errors.Is(err, shared.ErrSessionClosed) {
				closeWithReason(c.conn, websocket.CloseNormalClosure, "session finalized")
				return
			}
			c.log.Warn("message dispatch failed", logger.String("type", msg.Type), logger.Err(err))
		}
	}
}

// dispatch routes one inbound message. Detector failures count as missed
// ticks: the frame is skipped and the session continues unscored for it.
func (c *wsConn) dispatch(ctx context.Context, msg wsInbound) error {
	switch msg.Type {
	case "video_frame":
		frame, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.send(wsOutbound{Type: "error", Message: "video_frame data must be base64"})
			return nil
		}
		return c.analyzeVideo(ctx, frame)

	case "audio_chunk":
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.send(wsOutbound{Type: "error", Message: "audio_chunk data must be base64"})
			return nil
		}
		return c.analyzeAudio(ctx, chunk)

	case "tab_switch":
		return c.enqueue("tab_switch_result", nil, observation.NewClient(observation.ClientEvent{
			Kind: observation.TabSwitch,
		}))

	case "ping":
		c.send(wsOutbound{Type: "pong"})
		return nil

	default:
		c.send(wsOutbound{Type: "error", Message: "unknown message type"})
		return nil
	}
}

func (c *wsConn) analyzeVideo(ctx context.Context, frame []byte) error {
	if c.server.deps.VideoDetector == nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, wsDetectorTimeout)
	defer cancel()

	res, err := c.server.deps.VideoDetector.Analyze(dctx, frame)
	if err != nil {
		if shared.IsMissedTick(err) {
			c.log.Debug("video tick missed", logger.Err(err))
			return nil
		}
		return err
	}
	return c.enqueue("video_result", map[string]any{
		"face_present": res.FacePresent,
		"face_count":   res.FaceCount,
	}, observation.NewVideo(res))
}

func (c *wsConn) analyzeAudio(ctx context.Context, chunk []byte) error {
	if c.server.deps.AudioDetector == nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, wsDetectorTimeout)
	defer cancel()

	res, err := c.server.deps.AudioDetector.Analyze(dctx, chunk)
	if err != nil {
		if shared.IsMissedTick(err) {
			c.log.Debug("audio tick missed", logger.Err(err))
			return nil
		}
		return err
	}
	return c.enqueue("audio_result", map[string]any{
		"db_level":    res.DBLevel,
		"noise_level": res.NoiseLevel,
	}, observation.NewAudio(res))
}

func (c *wsConn) enqueue(replyType string, payload map[string]any, res observation.Result) error {
	return c.worker.Enqueue(res, func(st engine.Status, recorded []violation.Event) {
		c.send(wsOutbound{
			Type:          replyType,
			BehaviorScore: st.BehaviorScore,
			Result:        payload,
			Violations:    recorded,
		})
	})
}
