package models

import "time"

// ContactGrant authorises a client to see specific contact channels of a
// developer. A nil ProjectID makes the grant permanent across projects; a nil
// ExpiresAt never expires.
type ContactGrant struct {
	ID            string     `db:"id" json:"id"`
	ClientID      string     `db:"client_id" json:"client_id"`
	DeveloperID   string     `db:"developer_id" json:"developer_id"`
	ProjectID     *string    `db:"project_id" json:"project_id,omitempty"`
	AllowEmail    bool       `db:"allow_email" json:"allow_email"`
	AllowPhone    bool       `db:"allow_phone" json:"allow_phone"`
	AllowWhatsApp bool       `db:"allow_whatsapp" json:"allow_whatsapp"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the grant has lapsed at the given instant.
func (g *ContactGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// ContactRevealEvent is an append-only log row recording one reveal action.
type ContactRevealEvent struct {
	ID                 string    `db:"id" json:"id"`
	ProjectID          string    `db:"project_id" json:"project_id"`
	ClientID           string    `db:"client_id" json:"client_id"`
	DeveloperID        string    `db:"developer_id" json:"developer_id"`
	BatchID            *string   `db:"batch_id" json:"batch_id,omitempty"`
	Channel            string    `db:"channel" json:"channel"`
	IPAddress          string    `db:"ip_address" json:"ip_address"`
	UserAgent          string    `db:"user_agent" json:"user_agent"`
	CountsAgainstLimit bool      `db:"counts_against_limit" json:"counts_against_limit"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
