package models

import (
	"time"

	"github.com/lib/pq"
)

// DeveloperLevel grades experience. Ordering matters for rotation:
// EXPERT sorts before MID sorts before FRESHER.
type DeveloperLevel string

const (
	LevelExpert  DeveloperLevel = "EXPERT"
	LevelMid     DeveloperLevel = "MID"
	LevelFresher DeveloperLevel = "FRESHER"
)

// Rank maps the level to a sortable weight (higher is more senior).
func (l DeveloperLevel) Rank() int {
	switch l {
	case LevelExpert:
		return 3
	case LevelMid:
		return 2
	case LevelFresher:
		return 1
	default:
		return 0
	}
}

// DeveloperProfile holds the marketplace-facing developer record.
type DeveloperProfile struct {
	ID                   string         `db:"id" json:"id"`
	UserID               string         `db:"user_id" json:"user_id"`
	FullName             string         `db:"full_name" json:"full_name"`
	Skills               pq.StringArray `db:"skills" json:"skills"`
	Level                DeveloperLevel `db:"level" json:"level"`
	UsualResponseMinutes int            `db:"usual_response_minutes" json:"usual_response_minutes"`
	Available            bool           `db:"available" json:"available"`
	Approved             bool           `db:"approved" json:"approved"`
	PhoneVerified        bool           `db:"phone_verified" json:"phone_verified"`
	ContactEmail         string         `db:"contact_email" json:"-"`
	ContactPhone         string         `db:"contact_phone" json:"-"`
	ContactWhatsApp      string         `db:"contact_whatsapp" json:"-"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// ContactInfo is the reveal-gate response shape. Fields stay empty when the
// corresponding grant flag denies the channel.
type ContactInfo struct {
	DeveloperID string `json:"developer_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	WhatsApp    string `json:"whatsapp,omitempty"`
}
