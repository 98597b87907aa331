package constants

import "strings"

// DocState is the canonical lifecycle state for rows in documents.
type DocState string

// Stable values (store these exact strings in DB).
const (
	DocStateIngested   DocState = "INGESTED"    // bytes received, identity assigned
	DocStateNormalized DocState = "NORMALIZED"  // format normalized, pages counted
	DocStateRouted     DocState = "ROUTED"      // routing decision pending quality data
	DocStateOCR        DocState = "OCR"         // OCR/scoring completed
	DocStateHILPending DocState = "HIL_PENDING" // waiting on human review tasks
	DocStateLaneA      DocState = "LANE_A"      // automated extraction in flight
	DocStateValidate   DocState = "VALIDATE"    // extraction payload under validation
	DocStateEmit       DocState = "EMIT"        // terminal success
)

// ObligationStatus is the closed status set for obligations.
type ObligationStatus string

const (
	ObligationOpen       ObligationStatus = "open"
	ObligationInProgress ObligationStatus = "in_progress"
	ObligationSatisfied  ObligationStatus = "satisfied"
	ObligationWaived     ObligationStatus = "waived"
	ObligationPastDue    ObligationStatus = "past_due"
	ObligationSuperseded ObligationStatus = "superseded"
)

var obligationStatuses = []ObligationStatus{
	ObligationOpen,
	ObligationInProgress,
	ObligationSatisfied,
	ObligationWaived,
	ObligationPastDue,
	ObligationSuperseded,
}

// CanonicalObligationStatus maps an incoming status string onto the closed set.
// Unrecognized or empty input falls back to "open"; the bool reports a match.
func CanonicalObligationStatus(input string) (ObligationStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return ObligationOpen, false
	}
	for _, s := range obligationStatuses {
		if normalized == string(s) {
			return s, true
		}
	}
	return ObligationOpen, false
}

// TaskStatus is the canonical status for rows in hil_tasks.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusResolved TaskStatus = "resolved"
	TaskStatusIgnored  TaskStatus = "ignored"
)

// TaskReason identifies why a human review task was opened.
type TaskReason string

const (
	ReasonLowPageScore      TaskReason = "low_page_score"
	ReasonLowDocScore       TaskReason = "low_doc_score"
	ReasonLowDPI            TaskReason = "low_dpi"
	ReasonLowTextCoverage   TaskReason = "low_text_coverage"
	ReasonLowConfRegion     TaskReason = "low_confidence_region"
	ReasonSchemaViolation   TaskReason = "schema_violation"
	ReasonBadBBox           TaskReason = "bad_bbox"
	ReasonMissingProvenance TaskReason = "missing_provenance"
	ReasonTableParseFail    TaskReason = "table_parse_fail"
)

// TaskAction is the human action recorded when resolving a task.
type TaskAction string

const (
	ActionTranscribe TaskAction = "transcribe"
	ActionUpload     TaskAction = "upload"
	ActionIgnore     TaskAction = "ignore"
	ActionComplete   TaskAction = "complete"
)

// ParseTaskAction validates an incoming action string.
func ParseTaskAction(input string) (TaskAction, bool) {
	switch TaskAction(strings.ToLower(strings.TrimSpace(input))) {
	case ActionTranscribe:
		return ActionTranscribe, true
	case ActionUpload:
		return ActionUpload, true
	case ActionIgnore:
		return ActionIgnore, true
	case ActionComplete:
		return ActionComplete, true
	}
	return "", false
}
