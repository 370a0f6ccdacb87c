package model

import (
	"fmt"
	"strings"
)

// Position addresses a point in a workflow graph. The full form is
// PHASE:STAGE:STATUS; the degraded form used by stage-only workflows carries
// just a stage code with empty phase and status.
type Position struct {
	Phase  string `json:"phase,omitempty"`
	Stage  string `json:"stage"`
	Status string `json:"status,omitempty"`
}

// ParsePosition parses a full PHASE:STAGE:STATUS address. Parsing is strict:
// exactly three colon-separated, non-empty segments. Malformed strings fail
// with BAD_REQUEST rather than silently truncating.
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Position{}, NewBadRequestError(
			fmt.Sprintf("invalid position %q: want PHASE:STAGE:STATUS", s),
		)
	}
	for _, p := range parts {
		if p == "" {
			return Position{}, NewBadRequestError(
				fmt.Sprintf("invalid position %q: empty segment", s),
			)
		}
	}
	return Position{Phase: parts[0], Stage: parts[1], Status: parts[2]}, nil
}

// StagePosition returns a stage-only position for workflows that do not model
// phases or statuses.
func StagePosition(stageCode string) Position {
	return Position{Stage: stageCode}
}

// IsStageOnly reports whether the position uses the degraded stage-only form.
func (p Position) IsStageOnly() bool {
	return p.Phase == "" && p.Status == ""
}

// IsZero reports whether the position is entirely unset.
func (p Position) IsZero() bool {
	return p.Phase == "" && p.Stage == "" && p.Status == ""
}

// String renders the canonical address: PHASE:STAGE:STATUS for full
// positions, the bare stage code for stage-only positions.
func (p Position) String() string {
	if p.IsStageOnly() {
		return p.Stage
	}
	return p.Phase + ":" + p.Stage + ":" + p.Status
}
