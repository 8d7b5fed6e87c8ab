// Package api exposes the usage ledger over HTTP with gin.
//
//	GET  {base}/usage/:subjectID
//	GET  {base}/usage/:subjectID/:featureSlug
//	POST {base}/usage/:subjectID/:featureSlug/record
//	POST {base}/usage/:subjectID/:featureSlug/reset
//	GET  {base}/usage/:subjectID/:featureSlug/check?amount=n
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/guard"
	"github.com/xraph/guard/entitlement"
	"github.com/xraph/guard/usage"
)

// Ledger is the subset of *guard.Guard the API serves.
type Ledger interface {
	GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error)
	RecordUsage(ctx context.Context, subjectID, featureSlug string, amount int64) (*usage.Record, error)
	ResetUsage(ctx context.Context, subjectID, featureSlug string) error
	ListUsageForSubject(ctx context.Context, subjectID string) ([]*usage.Record, error)
	Check(ctx context.Context, subjectID, featureSlug string, amount int64) (*entitlement.Result, error)
}

var _ Ledger = (*guard.Guard)(nil)

// Handler serves the usage routes.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for unexpected failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates a Handler.
func NewHandler(l Ledger, opts ...Option) *Handler {
	h := &Handler{ledger: l, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the usage routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/usage")
	g.Use(OrgScope())

	g.GET("/:subjectID", h.list)
	g.GET("/:subjectID/:featureSlug", h.get)
	g.POST("/:subjectID/:featureSlug/record", h.record)
	g.POST("/:subjectID/:featureSlug/reset", h.reset)
	g.GET("/:subjectID/:featureSlug/check", h.check)
}

// NewRouter returns a gin engine with the request-id middleware, panic
// recovery and the usage routes under basePath.
func NewRouter(h *Handler, basePath string, middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID())
	r.Use(middleware...)
	h.Register(r.Group(basePath))
	return r
}

func (h *Handler) get(c *gin.Context) {
	rec, err := h.ledger.GetUsage(c.Request.Context(), c.Param("subjectID"), c.Param("featureSlug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUsageResponse(rec))
}

func (h *Handler) list(c *gin.Context) {
	subjectID := c.Param("subjectID")
	recs, err := h.ledger.ListUsageForSubject(c.Request.Context(), subjectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := ListResponse{SubjectID: subjectID, Usage: make([]*UsageResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Usage = append(out.Usage, newUsageResponse(rec))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) record(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, guard.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	rec, err := h.ledger.RecordUsage(c.Request.Context(), c.Param("subjectID"), c.Param("featureSlug"), amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUsageResponse(rec))
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.ledger.ResetUsage(c.Request.Context(), c.Param("subjectID"), c.Param("featureSlug")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) check(c *gin.Context) {
	amount := int64(1)
	if raw := c.Query("amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(c, guard.ValidationError{Field: "amount", Message: "must be an integer"})
			return
		}
		amount = n
	}

	res, err := h.ledger.Check(c.Request.Context(), c.Param("subjectID"), c.Param("featureSlug"), amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// fail maps err onto a status code and error body.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	info := ErrorInfo{RequestID: c.GetString(requestIDKey)}
	status := http.StatusInternalServerError

	var verr guard.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		info.Code = CodeValidation
		info.Field = verr.Field
		info.Message = verr.Message
	case guard.IsUnavailable(err):
		status = http.StatusServiceUnavailable
		info.Code = CodeUnavailable
		info.Message = "usage backend unavailable"
	default:
		info.Code = CodeInternal
		info.Message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("usage request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", info.RequestID,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: info})
}
