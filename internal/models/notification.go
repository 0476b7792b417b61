package models

import "time"

// NotificationType constants for fan-out events.
const (
	NotificationProjectOffered  = "PROJECT_OFFERED"
	NotificationInviteReceived  = "INVITE_RECEIVED"
	NotificationOfferAccepted   = "OFFER_ACCEPTED"
	NotificationOfferRejected   = "OFFER_REJECTED"
	NotificationContactRevealed = "CONTACT_REVEALED"
)

// Notification is a persisted fan-out record. Delivery is fire-and-forget;
// failures never propagate to the operation that produced the event.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	Type        string    `db:"type" json:"type"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Payload     []byte    `db:"payload" json:"payload"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
