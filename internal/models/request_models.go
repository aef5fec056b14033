package models

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	OTPCode  string `json:"otp_code"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type InviteUserRequest struct {
	Email     string  `json:"email" binding:"required"`
	FullName  string  `json:"full_name"`
	Role      string  `json:"role" binding:"required"`
	CompanyID *string `json:"company_id"`
}

type AcceptInvitationRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UnlockAccountRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ExtendLockoutRequest struct {
	AdditionalMinutes int    `json:"additional_minutes" binding:"required"`
	Reason            string `json:"reason"`
}

type LoginResult struct {
	User        *User    `json:"user"`
	Session     *Session `json:"session"`
	AccessToken string   `json:"access_token"`
}

type TwoFactorEnrollResult struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// PasswordChangeResult reports policy-violation outcomes as data, not as
// errors: the caller renders per-rule feedback.
type PasswordChangeResult struct {
	OK            bool            `json:"ok"`
	Rules         map[string]bool `json:"rules,omitempty"`
	ReusedHistory bool            `json:"reused_history,omitempty"`
	StrengthScore int             `json:"strength_score"`
}
