package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bookwise/internal/domain"
	"bookwise/internal/service/scheduling"
	"bookwise/internal/store"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc    *scheduling.Service
	pinger Pinger
	log    *slog.Logger
	now    func() time.Time
}

func NewServer(svc *scheduling.Service, pinger Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc:    svc,
		pinger: pinger,
		log:    log.With(slog.String("component", "http")),
		now:    time.Now,
	}
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("slotaligned", func(fl validator.FieldLevel) bool {
			t, ok := fl.Field().Interface().(time.Time)
			if !ok {
				return false
			}
			return domain.IsAligned(t)
		})
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.handleHealthz)

	v1 := r.Group("/v1")
	{
		v1.GET("/providers/:provider_id/slots", s.handleListSlots)
		v1.GET("/providers/:provider_id/windows", s.handleListWindows)
		v1.POST("/providers/:provider_id/windows", callerRequired(), ownProviderRequired(), s.handlePublishWindow)
		v1.POST("/providers/:provider_id/windows/recurring", callerRequired(), ownProviderRequired(), s.handlePublishRecurring)
		v1.PATCH("/providers/:provider_id/windows/:window_id", callerRequired(), ownProviderRequired(), s.handleSetWindowBlocked)
		v1.DELETE("/providers/:provider_id/windows/:window_id", callerRequired(), ownProviderRequired(), s.handleDeleteWindow)

		v1.POST("/reservations", s.handleCreateReservation)
		v1.GET("/reservations/:id", s.handleGetReservation)
		v1.POST("/reservations/:id/transitions", callerRequired(), s.handleTransition)
		v1.POST("/reservations/:id/payment-reference", callerRequired(), s.handleAttachPaymentRef)
	}

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info(
			"request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// callerRequired gates routes that act on behalf of a participant.
// Identity is taken from the X-Caller-Id header; authentication itself
// happens upstream of this service.
func callerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := c.GetHeader("X-Caller-Id")
		if callerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Caller-Id header is required"})
			return
		}
		c.Set("callerID", callerID)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString("callerID")
}

// ownProviderRequired restricts window management to the provider whose
// schedule it is. Runs after callerRequired.
func ownProviderRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerID(c) != c.Param("provider_id") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "caller does not own this provider schedule"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type timeRangeQuery struct {
	From time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (q *timeRangeQuery) withDefaults(now time.Time) {
	if q.From.IsZero() {
		q.From = now
	}
	if q.To.IsZero() {
		q.To = q.From.Add(7 * 24 * time.Hour)
	}
}

type slotResponse struct {
	WindowID        uuid.UUID `json:"window_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes []int     `json:"duration_minutes"`
}

func (s *Server) handleListSlots(c *gin.Context) {
	var q timeRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range: " + err.Error()})
		return
	}
	q.withDefaults(s.now().UTC())

	slots, err := s.svc.ListOfferableSlots(c.Request.Context(), c.Param("provider_id"), q.From, q.To)
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, sl := range slots {
		minutes := make([]int, 0, len(sl.Durations))
		for _, d := range sl.Durations {
			minutes = append(minutes, int(d.Minutes()))
		}
		out = append(out, slotResponse{
			WindowID:        sl.WindowID,
			Start:           sl.Start,
			End:             sl.End,
			DurationMinutes: minutes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}

type createReservationRequest struct {
	ProviderID   string    `json:"provider_id" binding:"required"`
	RequesterID  string    `json:"requester_id" binding:"required"`
	StartTime    time.Time `json:"start_time" binding:"required"`
	EndTime      time.Time `json:"end_time" binding:"required"`
	ContactEmail string    `json:"contact_email" binding:"required,email"`
	ContactPhone string    `json:"contact_phone"`
	Notes        string    `json:"notes"`
}

func (s *Server) handleCreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.svc.Reserve(c.Request.Context(), scheduling.ReserveInput{
		ProviderID:   req.ProviderID,
		RequesterID:  req.RequesterID,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Notes:        req.Notes,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleGetReservation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	res, err := s.svc.GetReservation(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transitionRequest struct {
	Action string `json:"action" binding:"required,oneof=confirm cancel complete"`
	Reason string `json:"reason"`
}

func (s *Server) handleTransition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.svc.Transition(c.Request.Context(), id, scheduling.Action(req.Action), callerID(c), req.Reason)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type paymentRefRequest struct {
	Reference string `json:"reference" binding:"required"`
}

func (s *Server) handleAttachPaymentRef(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	var req paymentRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.svc.AttachPaymentReference(c.Request.Context(), id, callerID(c), req.Reference)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type publishWindowRequest struct {
	StartTime time.Time `json:"start_time" binding:"required,slotaligned"`
	EndTime   time.Time `json:"end_time" binding:"required,slotaligned,gtfield=StartTime"`
	Timezone  string    `json:"timezone"`
}

func (s *Server) handlePublishWindow(c *gin.Context) {
	var req publishWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	w, err := s.svc.PublishWindow(c.Request.Context(), scheduling.PublishWindowInput{
		ProviderID: c.Param("provider_id"),
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Timezone:   req.Timezone,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

type publishRecurringRequest struct {
	DTStart         time.Time  `json:"dtstart" binding:"required,slotaligned"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=60"`
	Interval        int        `json:"interval"`
	ByWeekday       []int16    `json:"by_weekday" binding:"required,min=1,dive,min=1,max=7"`
	Timezone        string     `json:"timezone"`
	Until           *time.Time `json:"until"`
	Count           *int       `json:"count"`
}

func (s *Server) handlePublishRecurring(c *gin.Context) {
	var req publishRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	windows, err := s.svc.PublishRecurringWindows(c.Request.Context(), scheduling.PublishRecurringInput{
		ProviderID: c.Param("provider_id"),
		Timezone:   req.Timezone,
		DTStart:    req.DTStart,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		Interval:   req.Interval,
		ByWeekday:  req.ByWeekday,
		Until:      req.Until,
		Count:      req.Count,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"windows": windows})
}

func (s *Server) handleListWindows(c *gin.Context) {
	var q timeRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range: " + err.Error()})
		return
	}
	q.withDefaults(s.now().UTC())

	views, err := s.svc.ListWindows(c.Request.Context(), c.Param("provider_id"), q.From, q.To)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": views})
}

type blockWindowRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

func (s *Server) handleSetWindowBlocked(c *gin.Context) {
	windowID, err := uuid.Parse(c.Param("window_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window id"})
		return
	}

	var req blockWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	w, err := s.svc.SetWindowBlocked(c.Request.Context(), c.Param("provider_id"), windowID, *req.Blocked)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleDeleteWindow(c *gin.Context) {
	windowID, err := uuid.Parse(c.Param("window_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window id"})
		return
	}

	if err := s.svc.DeleteWindow(c.Request.Context(), c.Param("provider_id"), windowID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renderError(c *gin.Context, err error) {
	var verr *scheduling.ValidationError
	var terr *domain.InvalidTransitionError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "reason": string(verr.Reason)})
	case errors.Is(err, domain.ErrCancelReasonRequired),
		errors.Is(err, domain.ErrCompletionNoteRequired),
		errors.Is(err, domain.ErrSessionNotEnded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{"error": terr.Error()})
	case errors.Is(err, store.ErrOverlapConflict),
		errors.Is(err, store.ErrOutOfRange),
		errors.Is(err, store.ErrWindowBlocked),
		errors.Is(err, store.ErrWindowNotEmpty),
		errors.Is(err, store.ErrStaleStatus):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrWindowNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrActorNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
