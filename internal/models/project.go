package models

import (
	"time"

	"github.com/lib/pq"
)

// ProjectStatus enumerates lifecycle states. Projects are never hard-deleted.
type ProjectStatus string

const (
	ProjectStatusOpen      ProjectStatus = "OPEN"
	ProjectStatusAssigning ProjectStatus = "ASSIGNING"
	ProjectStatusAccepted  ProjectStatus = "ACCEPTED"
	ProjectStatusClosed    ProjectStatus = "CLOSED"
)

// Project is a client's posted work item.
type Project struct {
	ID                         string         `db:"id" json:"id"`
	ClientID                   string         `db:"client_id" json:"client_id"`
	Title                      string         `db:"title" json:"title"`
	Description                string         `db:"description" json:"description"`
	Budget                     int64          `db:"budget" json:"budget"`
	RequiredSkills             pq.StringArray `db:"required_skills" json:"required_skills"`
	Status                     ProjectStatus  `db:"status" json:"status"`
	CurrentBatchID             *string        `db:"current_batch_id" json:"current_batch_id,omitempty"`
	ContactRevealEnabled       bool           `db:"contact_reveal_enabled" json:"contact_reveal_enabled"`
	ContactRevealedDeveloperID *string        `db:"contact_revealed_developer_id" json:"contact_revealed_developer_id,omitempty"`
	CreatedAt                  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time      `db:"updated_at" json:"updated_at"`
}
