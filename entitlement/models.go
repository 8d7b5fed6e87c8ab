// Package entitlement holds the answer to "may this subject use N more
// units of this feature right now".
package entitlement

import "github.com/xraph/guard/limit"

type Result struct {
	Allowed    bool             `json:"allowed"`
	SubjectID  string           `json:"subject_id"`
	Feature    string           `json:"feature"`
	Amount     int64            `json:"amount"`
	Evaluation limit.Evaluation `json:"evaluation"`
	Reason     string           `json:"reason,omitempty"`
}

// Reasons reported on denied results.
const (
	ReasonQuotaExceeded = "quota exceeded"
	ReasonWouldExceed   = "amount exceeds remaining quota"
)

// Decide builds a Result from an evaluation.
func Decide(subjectID, feature string, amount int64, e limit.Evaluation) *Result {
	r := &Result{
		Allowed:    e.CanPerform(amount),
		SubjectID:  subjectID,
		Feature:    feature,
		Amount:     amount,
		Evaluation: e,
	}
	switch {
	case r.Allowed:
	case e.Exceeded:
		r.Reason = ReasonQuotaExceeded
	default:
		r.Reason = ReasonWouldExceed
	}
	return r
}
