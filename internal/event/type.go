package event

const AccountMailQueue = "account_mail_events"

const (
	MailKindPasswordReset = "password_reset"
	MailKindInvitation    = "invitation"
	MailKindWelcome       = "welcome"
	MailKindLockoutNotice = "lockout_notice"
)

// AccountMailEvent is the message shape the notification consumer reads
// from the account mail queue. Token carries the one-time secret for
// reset and invitation mails and stays empty otherwise.
type AccountMailEvent struct {
	Kind      string `json:"kind"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn string `json:"expires_in,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
