package models

import "time"

// ResponseStatus is the candidate state machine. PENDING is the only
// non-terminal state.
type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "PENDING"
	ResponseAccepted ResponseStatus = "ACCEPTED"
	ResponseRejected ResponseStatus = "REJECTED"
	ResponseExpired  ResponseStatus = "EXPIRED"
)

// CandidateSource distinguishes rotation offers from manual invites.
type CandidateSource string

const (
	SourceAutoRotation CandidateSource = "AUTO_ROTATION"
	SourceManualInvite CandidateSource = "MANUAL_INVITE"
)

// AssignmentBatch groups the candidates produced by one rotation pass.
// Immutable once created.
type AssignmentBatch struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AssignmentCandidate is one developer's offer on one project, or a direct
// invite when BatchID and ProjectID are nil.
type AssignmentCandidate struct {
	ID                      string          `db:"id" json:"id"`
	BatchID                 *string         `db:"batch_id" json:"batch_id,omitempty"`
	ProjectID               *string         `db:"project_id" json:"project_id,omitempty"`
	ClientID                string          `db:"client_id" json:"client_id"`
	DeveloperID             string          `db:"developer_id" json:"developer_id"`
	LevelSnapshot           DeveloperLevel  `db:"level_snapshot" json:"level_snapshot"`
	ResponseMinutesSnapshot int             `db:"response_minutes_snapshot" json:"response_minutes_snapshot"`
	SkillMatchPct           int             `db:"skill_match_pct" json:"skill_match_pct"`
	AssignedAt              time.Time       `db:"assigned_at" json:"assigned_at"`
	AcceptanceDeadline      *time.Time      `db:"acceptance_deadline" json:"acceptance_deadline,omitempty"`
	ResponseStatus          ResponseStatus  `db:"response_status" json:"response_status"`
	RespondedAt             *time.Time      `db:"responded_at" json:"responded_at,omitempty"`
	Source                  CandidateSource `db:"source" json:"source"`
	InviteTitle             *string         `db:"invite_title" json:"invite_title,omitempty"`
	InviteBudget            *int64          `db:"invite_budget" json:"invite_budget,omitempty"`
	InviteMessage           *string         `db:"invite_message" json:"invite_message,omitempty"`
}

// DeadlinePassed reports whether the acceptance deadline, if any, is behind
// the given instant.
func (c *AssignmentCandidate) DeadlinePassed(now time.Time) bool {
	return c.AcceptanceDeadline != nil && now.After(*c.AcceptanceDeadline)
}

// EffectiveStatus resolves the lazily-expired view of the candidate: a stored
// PENDING whose deadline has passed reads as EXPIRED.
func (c *AssignmentCandidate) EffectiveStatus(now time.Time) ResponseStatus {
	if c.ResponseStatus == ResponsePending && c.DeadlinePassed(now) {
		return ResponseExpired
	}
	return c.ResponseStatus
}

// RotationCursor remembers, per pool key, the last developer offered so that
// successive batch formations rotate fairly.
type RotationCursor struct {
	PoolKey         string    `db:"pool_key" json:"pool_key"`
	LastDeveloperID string    `db:"last_developer_id" json:"last_developer_id"`
	AdvancedAt      time.Time `db:"advanced_at" json:"advanced_at"`
}
