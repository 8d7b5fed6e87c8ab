package api

import (
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/usage"
)

// Error codes carried in error bodies.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
)

// UsageResponse is a record together with its evaluation.
type UsageResponse struct {
	Record     *usage.Record    `json:"record"`
	Evaluation limit.Evaluation `json:"evaluation"`
}

// ListResponse is every record of one subject.
type ListResponse struct {
	SubjectID string           `json:"subject_id"`
	Usage     []*UsageResponse `json:"usage"`
}

// RecordRequest is the body of a record call. A missing amount records 1.
type RecordRequest struct {
	Amount *int64 `json:"amount"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse wraps ErrorInfo.
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

func newUsageResponse(rec *usage.Record) *UsageResponse {
	return &UsageResponse{Record: rec, Evaluation: rec.Evaluate()}
}
