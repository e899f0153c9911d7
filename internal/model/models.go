package model

import "time"

// PasswordPlaceholder is written to the mirror store when a password change is
// known to have happened but the new plaintext is not available (provider
// change events and explicit notify calls). Consumers of the mirror must treat
// it as a marker, not as a credential.
const PasswordPlaceholder = "PASSWORD_CHANGED_IN_PROVIDER"

// -------------------- IDENTITY MODEL --------------------

// Identity is the provider-side account, looked up by normalized email.
type Identity struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// IdentitySnapshot is the account state carried by a provider change event.
// Fingerprint fields are opaque and only ever compared for equality.
type IdentitySnapshot struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	PasswordSalt string `json:"password_salt"`
}

// CredentialFingerprint identifies the stored credential without revealing it.
func (s *IdentitySnapshot) CredentialFingerprint() string {
	if s == nil {
		return ""
	}
	return s.PasswordHash + ":" + s.PasswordSalt
}

// -------------------- PENDING CODE MODEL --------------------

// PendingCode is the single outstanding OTP for an email. Code is only
// populated on issuance; stores persist CodeHash.
type PendingCode struct {
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	CodeHash  []byte    `json:"code_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// ValidationReason is the stable, caller-facing outcome of a failed OTP check.
type ValidationReason string

const (
	ReasonNotFound        ValidationReason = "not-found"
	ReasonExpired         ValidationReason = "expired"
	ReasonMismatch        ValidationReason = "mismatch"
	ReasonAlreadyConsumed ValidationReason = "already-consumed"
	ReasonConflict        ValidationReason = "conflict"
)

// ValidationResult is returned by ValidateOtp.
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Reason ValidationReason `json:"reason,omitempty"`
}

// -------------------- SYNC EVENT MODEL --------------------

// SyncSource names the trigger that produced a SyncEvent.
type SyncSource string

const (
	SourceExplicitRequest SyncSource = "explicit-request"
	SourceProviderEvent   SyncSource = "provider-event"
	SourceWebhook         SyncSource = "webhook"
)

// SyncState is a state of the per-event sync state machine.
type SyncState string

const (
	StateReceived  SyncState = "received"
	StateValidated SyncState = "validated"
	StateCommitted SyncState = "committed"
	StateFailed    SyncState = "failed"
)

// SyncEvent is an ephemeral "a password changed" signal. It drives exactly
// one mirror-store write attempt and is never persisted.
type SyncEvent struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Password   string     `json:"-"`
	Source     SyncSource `json:"source"`
	ReceivedAt time.Time  `json:"received_at"`
}

// SyncResult is the terminal outcome of processing one SyncEvent.
type SyncResult struct {
	EventID         string     `json:"event_id"`
	Email           string     `json:"email"`
	Source          SyncSource `json:"source"`
	State           SyncState  `json:"state"`
	ProviderUpdated bool       `json:"provider_updated"`
	MirrorUpdated   bool       `json:"mirror_updated"`
	ErrorClass      string     `json:"error_class,omitempty"`
	CompletedAt     time.Time  `json:"completed_at"`
	Err             error      `json:"-"`
}

// Divergent reports a partially completed dual write: the provider holds the
// new password but the mirror does not.
func (r *SyncResult) Divergent() bool {
	return r.ProviderUpdated && !r.MirrorUpdated
}

// -------------------- NOTIFICATION MODEL --------------------

// TemplateKind selects the outbound message template.
type TemplateKind string

const (
	TemplateOTP             TemplateKind = "otp"
	TemplateResetLink       TemplateKind = "password-reset-link"
	TemplatePasswordChanged TemplateKind = "password-changed"
)
