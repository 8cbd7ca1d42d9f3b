package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/live"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type WSHandler struct {
	engine   *app.Engine
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		engine: engine,
		log:    log.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID      string        `json:"questionId"`
	Answer          domain.Answer `json:"answer"`
	ClientTimestamp time.Time     `json:"clientTimestamp"`
}

// ServeWS registers a participant channel and upgrades the request. The
// first frame is always a snapshot; leaderboard deltas, question changes
// and the session end follow in sequence order. Answers sent on the socket
// are answered on the same socket with answer-result or error.
//
// Query: sessionId, participantId, optional name (joins first).
func (h *WSHandler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Query("sessionId")
	participant := participantID(c, c.Query("participantId"))
	if sessionID == "" || participant == "" {
		c.JSON(http.StatusBadRequest, domain.ErrorPayload{Reason: reasonInvalidRequest, Message: "missing sessionId or participantId"})
		return
	}

	if name := c.Query("name"); name != "" {
		if _, err := h.engine.Join(ctx, sessionID, participant, name, false); err != nil {
			writeError(c, err)
			return
		}
	}
	ch, err := h.engine.Connect(ctx, sessionID, participant)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		h.engine.Disconnect(sessionID, ch)
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{"session": sessionID, "participant": participant, "channel": ch.ID})
	s := &wsSession{
		conn:   conn,
		send:   make(chan domain.Event, 16),
		closed: make(chan struct{}),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := s.writeLoop(); err != nil {
			log.WithError(err).Debug("ws write failed")
			h.engine.MarkStale(sessionID, ch, err)
			s.shutdown()
		}
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		s.forward(ch)
	}()

	readErr := s.readLoop(func(msg inboundMessage) {
		h.handleInbound(c, s, sessionID, participant, msg)
	})

	s.shutdown()
	<-forwardDone
	close(s.send)
	<-writerDone

	switch {
	case readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		h.engine.MarkStale(sessionID, ch, readErr)
	case ch.State() == live.ChannelStale:
		// Kept for the participant to reconnect; the reaper closes it later.
	default:
		h.engine.Disconnect(sessionID, ch)
		log.Debug("ws closed")
	}
}

func (h *WSHandler) handleInbound(c *gin.Context, s *wsSession, sessionID, participant string, msg inboundMessage) {
	switch msg.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.push(errorEvent(sessionID, reasonInvalidRequest, "invalid answer payload"))
			return
		}
		req := domain.SubmissionRequest{
			SessionID:       sessionID,
			ParticipantID:   participant,
			QuestionID:      payload.QuestionID,
			Answer:          payload.Answer,
			ClientTimestamp: payload.ClientTimestamp,
		}
		if err := validate.Struct(req); err != nil {
			s.push(errorEvent(sessionID, reasonInvalidRequest, err.Error()))
			return
		}
		receipt, err := h.engine.Submit(c.Request.Context(), req)
		if err != nil {
			s.push(errorEvent(sessionID, domain.ReasonCode(err), err.Error()))
			return
		}
		s.push(domain.Event{Type: domain.EventAnswerResult, SessionID: sessionID, Payload: receipt})
	default:
		s.push(errorEvent(sessionID, reasonInvalidRequest, "unsupported message type"))
	}
}

func errorEvent(sessionID, reason, message string) domain.Event {
	return domain.Event{
		Type:      domain.EventError,
		SessionID: sessionID,
		Payload:   domain.ErrorPayload{Reason: reason, Message: message},
	}
}

// wsSession serializes writes to one connection through send.
type wsSession struct {
	conn *websocket.Conn
	send chan domain.Event

	once   sync.Once
	closed chan struct{}
}

func (s *wsSession) shutdown() {
	s.once.Do(func() {
		close(s.closed)
		// Unblocks readLoop when the writer gave up first.
		_ = s.conn.SetReadDeadline(time.Now())
	})
}

// push queues a reply for the writer unless the connection is going away.
func (s *wsSession) push(ev domain.Event) {
	select {
	case s.send <- ev:
	case <-s.closed:
	}
}

// forward copies channel events to the writer until the channel closes,
// which happens when it goes stale, is replaced, or the session shuts down.
func (s *wsSession) forward(ch *live.Channel) {
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				s.shutdown()
				return
			}
			s.push(ev)
		case <-s.closed:
			return
		}
	}
}

func (s *wsSession) writeLoop() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return nil
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *wsSession) readLoop(handle func(inboundMessage)) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg inboundMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.push(errorEvent("", reasonInvalidRequest, "malformed message"))
				continue
			}
			return err
		}
		handle(msg)
	}
}
