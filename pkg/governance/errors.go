package governance

import "fmt"

// RejectReason names why ValidateInput or a gate rejected a candidate.
type RejectReason string

const (
	ReasonEmptyText          RejectReason = "text_empty"
	ReasonTextTooLong        RejectReason = "text_too_long"
	ReasonForbiddenMarker    RejectReason = "forbidden_marker"
	ReasonInvalidCategory    RejectReason = "invalid_category"
	ReasonMissingTagPrefix   RejectReason = "missing_tag_prefix"
	ReasonFactTemplate       RejectReason = "fact_template_incomplete"
	ReasonDecisionTemplate   RejectReason = "decision_template_incomplete"
	ReasonDuplicateLikely    RejectReason = "duplicate_likely"
	ReasonDecisionRatio      RejectReason = "decision_ratio_exceeded"
	ReasonInvalidImportance  RejectReason = "invalid_importance"
)

// RejectError is returned by every governance check; it carries a stable
// Reason for programmatic handling plus a human Message for RPC surfacing.
type RejectError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(reason RejectReason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
