package http

import (
	"net/http"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

type RouterOptions struct {
	AuthSecret string
	Log        logrus.FieldLogger
}

// Handler exposes the engine over REST.
type Handler struct {
	engine *app.Engine
	log    logrus.FieldLogger
}

// NewRouter wires the REST routes and the participant websocket.
func NewRouter(engine *app.Engine, opts RouterOptions) *gin.Engine {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	h := &Handler{engine: engine, log: opts.Log}
	ws := NewWSHandler(engine, opts.Log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/ws", Identity(opts.AuthSecret), ws.ServeWS)

	sessions := r.Group("/sessions/:id", Identity(opts.AuthSecret))
	{
		sessions.GET("/leaderboard", h.leaderboard)
		sessions.POST("/join", h.join)
		sessions.POST("/submit", h.submit)

		organizer := sessions.Group("", RequireOrganizer())
		organizer.POST("/schedule", h.schedule)
		organizer.POST("/start", h.start)
		organizer.POST("/advance", h.advance)
		organizer.POST("/end", h.end)
	}
	return r
}

type scheduleRequest struct {
	StartAt time.Time `json:"startAt" validate:"required"`
}

type joinRequest struct {
	ParticipantID string `json:"participantId" validate:"required,max=128"`
	DisplayName   string `json:"displayName" validate:"max=64"`
	Guest         bool   `json:"guest"`
}

type submitRequest struct {
	ParticipantID   string        `json:"participantId" validate:"required,max=128"`
	QuestionID      string        `json:"questionId" validate:"required"`
	Answer          domain.Answer `json:"answer"`
	ClientTimestamp time.Time     `json:"clientTimestamp"`
}

func (h *Handler) schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, err)
		return
	}
	h.lifecycle(c, h.engine.Schedule(c.Request.Context(), c.Param("id"), req.StartAt))
}

func (h *Handler) start(c *gin.Context) {
	h.lifecycle(c, h.engine.Start(c.Request.Context(), c.Param("id")))
}

func (h *Handler) advance(c *gin.Context) {
	h.lifecycle(c, h.engine.Advance(c.Request.Context(), c.Param("id")))
}

func (h *Handler) end(c *gin.Context) {
	h.lifecycle(c, h.engine.End(c.Request.Context(), c.Param("id")))
}

func (h *Handler) lifecycle(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	state, err := h.engine.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "state": state})
}

func (h *Handler) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ParticipantID = participantID(c, req.ParticipantID)
	if err := validate.Struct(req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.engine.Join(c.Request.Context(), c.Param("id"), req.ParticipantID, req.DisplayName, req.Guest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req := domain.SubmissionRequest{
		SessionID:       c.Param("id"),
		ParticipantID:   participantID(c, body.ParticipantID),
		QuestionID:      body.QuestionID,
		Answer:          body.Answer,
		ClientTimestamp: body.ClientTimestamp,
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := h.engine.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) leaderboard(c *gin.Context) {
	lb, err := h.engine.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("http request")
	}
}
