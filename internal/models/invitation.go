package models

import "time"

type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "PENDING"
	InvitationStatusSent      InvitationStatus = "SENT"
	InvitationStatusExpired   InvitationStatus = "EXPIRED"
	InvitationStatusCancelled InvitationStatus = "CANCELLED"
	InvitationStatusAccepted  InvitationStatus = "ACCEPTED"
)

type Invitation struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Token     string           `json:"-" db:"token"`
	Status    InvitationStatus `json:"status" db:"status"`
	InvitedBy string           `json:"invited_by" db:"invited_by"`
	SentAt    *time.Time       `json:"sent_at" db:"sent_at"`
	ExpiresAt time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// IsTerminal reports whether the invitation reached a state it can never
// leave.
func (i *Invitation) IsTerminal() bool {
	switch i.Status {
	case InvitationStatusExpired, InvitationStatusCancelled, InvitationStatusAccepted:
		return true
	}
	return false
}

func (i *Invitation) IsUsable(now time.Time) bool {
	return !i.IsTerminal() && i.ExpiresAt.After(now)
}
