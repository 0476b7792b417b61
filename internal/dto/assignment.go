package dto

import (
	"time"

	"github.com/devmatch-io/devmatch-api/internal/models"
)

// CandidateView is one candidate row with its lazily-resolved status.
type CandidateView struct {
	ID                      string                 `json:"id"`
	DeveloperID             string                 `json:"developer_id"`
	LevelSnapshot           models.DeveloperLevel  `json:"level_snapshot"`
	ResponseMinutesSnapshot int                    `json:"response_minutes_snapshot"`
	SkillMatchPct           int                    `json:"skill_match_pct"`
	AssignedAt              time.Time              `json:"assigned_at"`
	AcceptanceDeadline      *time.Time             `json:"acceptance_deadline,omitempty"`
	Status                  models.ResponseStatus  `json:"status"`
	RespondedAt             *time.Time             `json:"responded_at,omitempty"`
	Source                  models.CandidateSource `json:"source"`
}

// AssignmentOverview describes a project's current batch and candidates.
type AssignmentOverview struct {
	ProjectID           string                `json:"project_id"`
	ProjectStatus       models.ProjectStatus  `json:"project_status"`
	BatchID             *string               `json:"batch_id,omitempty"`
	RevealedDeveloperID *string               `json:"revealed_developer_id,omitempty"`
	Candidates          []CandidateView       `json:"candidates"`
	GeneratedAt         time.Time             `json:"generated_at"`
}

// InviteRequest is the payload for a direct developer invite.
type InviteRequest struct {
	DeveloperID string `json:"developer_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Budget      int64  `json:"budget" validate:"omitempty,min=0"`
	Message     string `json:"message" validate:"required,max=2000"`
}

// RevealRequest is the payload for a contact reveal.
type RevealRequest struct {
	Channel   string `json:"channel" validate:"required,oneof=email phone whatsapp"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// CreateProjectRequest is the payload for posting a project.
type CreateProjectRequest struct {
	Title          string   `json:"title" validate:"required,max=200"`
	Description    string   `json:"description" validate:"required,max=5000"`
	Budget         int64    `json:"budget" validate:"omitempty,min=0"`
	RequiredSkills []string `json:"required_skills" validate:"required,min=1,dive,required"`
}

// GrantContactRequest is the admin payload for an explicit contact grant.
// A nil ProjectID makes the grant permanent across projects.
type GrantContactRequest struct {
	ClientID      string     `json:"client_id" validate:"required"`
	DeveloperID   string     `json:"developer_id" validate:"required"`
	ProjectID     *string    `json:"project_id,omitempty"`
	AllowEmail    bool       `json:"allow_email"`
	AllowPhone    bool       `json:"allow_phone"`
	AllowWhatsApp bool       `json:"allow_whatsapp"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// UpdateProjectStatusRequest is the admin payload for pausing or reopening
// a project.
type UpdateProjectStatusRequest struct {
	Status models.ProjectStatus `json:"status" validate:"required,oneof=OPEN CLOSED"`
}

// StatementRequest is the payload for queueing a usage statement export.
type StatementRequest struct {
	Format      string     `json:"format" validate:"required,oneof=csv pdf"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}
