package api

import "time"

// Reserved context keys used by the human-in-the-loop flow. They live in
// the execution context so that pending requests and amendments survive a
// process restart along with everything else the store persists.
const (
	// AmendmentContextKey holds replacement content supplied with an
	// "amend" response.
	AmendmentContextKey = "hitl.amendment"

	// RequestContextKey holds the serialized pending review request
	// while an execution is parked for human review.
	RequestContextKey = "hitl.request"
)

// HitlAction is a human decision on a review request.
type HitlAction string

const (
	HitlApprove HitlAction = "approve"
	HitlReject  HitlAction = "reject"
	HitlAmend   HitlAction = "amend"
)

// HitlRequest captures a pause for human review: the question asked, the
// allowed response options, and the context the reviewer needs.
type HitlRequest struct {
	ID          string
	ExecutionID string
	ProjectID   string
	StepIndex   int
	AgentType   string
	Question    string
	Options     []string
	Context     map[string]any
	Reason      string
	CreatedAt   time.Time
}
