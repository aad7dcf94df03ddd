package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ideatorio/internal/app"
	"ideatorio/internal/domain"
)

// RESTHandler serves session lifecycle and content generation endpoints.
type RESTHandler struct {
	service *app.Service
	content *app.ContentService
	logger  *zap.Logger
}

func NewRESTHandler(service *app.Service, content *app.ContentService, logger *zap.Logger) *RESTHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTHandler{service: service, content: content, logger: logger}
}

// Register mounts the routes on r.
func (h *RESTHandler) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	sessions := r.Group("/sessions")
	sessions.POST("/create-session", h.CreateSession)
	sessions.POST("/join-session", h.JoinSession)
	sessions.POST("/leave-session", h.LeaveSession)
	sessions.POST("/end-session", h.EndSession)
	sessions.GET("/:pin/state", h.State)
	sessions.GET("/:pin/results", h.Results)

	if h.content != nil {
		r.POST("/generate-ideas", h.GenerateIdeas)
		r.POST("/generate-questions", h.GenerateQuestions)
		r.POST("/generate-closed-questions", h.GenerateClosedQuestions)
		r.POST("/generate-multiple-correct-questions", h.GenerateMultipleCorrectQuestions)
	}
}

type createSessionRequest struct {
	Type       string     `json:"type"`
	HostID     flexString `json:"hostId"`
	HostUserID flexString `json:"host_user_id"`
}

type joinSessionRequest struct {
	PIN  flexString `json:"pin" binding:"required"`
	Name string     `json:"name" binding:"required,max=64"`
}

type leaveSessionRequest struct {
	PIN           flexString `json:"pin" binding:"required"`
	ParticipantID flexString `json:"participantId" binding:"required"`
}

type endSessionRequest struct {
	PIN flexString `json:"pin" binding:"required"`
}

type topicRequest struct {
	Topic    string `json:"topic"`
	Subtopic string `json:"subtopic"`
}

func (r topicRequest) value() string {
	if r.Subtopic != "" {
		return r.Subtopic
	}
	return r.Topic
}

// CreateSession handles POST /sessions/create-session.
func (h *RESTHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	t, err := domain.ParseDynamicType(req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	hostID := req.HostID
	if hostID == "" {
		hostID = req.HostUserID
	}
	info, err := h.service.CreateSession(c.Request.Context(), hostID.String(), t)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": info})
}

// JoinSession handles POST /sessions/join-session.
func (h *RESTHandler) JoinSession(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	p, err := h.service.JoinSession(c.Request.Context(), req.PIN.String(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participant": p})
}

// LeaveSession handles POST /sessions/leave-session.
func (h *RESTHandler) LeaveSession(c *gin.Context) {
	var req leaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if err := h.service.LeaveSession(c.Request.Context(), req.PIN.String(), req.ParticipantID.String()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EndSession handles POST /sessions/end-session. Ending an unknown session succeeds.
func (h *RESTHandler) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	if err := h.service.EndSession(c.Request.Context(), req.PIN.String()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// State handles GET /sessions/:pin/state with correctness flags removed.
func (h *RESTHandler) State(c *gin.Context) {
	snap, err := h.service.CurrentState(c.Request.Context(), c.Param("pin"), true)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Results handles GET /sessions/:pin/results.
func (h *RESTHandler) Results(c *gin.Context) {
	agg, err := h.service.Aggregate(c.Request.Context(), c.Param("pin"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (h *RESTHandler) GenerateIdeas(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	subtopics, err := h.content.Ideas(c.Request.Context(), req.value())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subtopics": subtopics})
}

func (h *RESTHandler) GenerateQuestions(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	questions, err := h.content.Questions(c.Request.Context(), req.value())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *RESTHandler) GenerateClosedQuestions(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	questions, err := h.content.ClosedQuestions(c.Request.Context(), req.value())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *RESTHandler) GenerateMultipleCorrectQuestions(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	questions, err := h.content.MultipleCorrectQuestions(c.Request.Context(), req.value())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *RESTHandler) fail(c *gin.Context, err error) {
	body := newErrorBody(err)
	status := statusFor(body.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}
