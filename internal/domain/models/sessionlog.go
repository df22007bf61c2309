// internal/domain/models/sessionlog.go
package models

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id),
//     used as the string key in session logs and API payloads

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionEntry is one login/logout pair in an account's session log.
// A nil LogoutAt means the entry is open (the account is signed in).
type SessionEntry struct {
	LoginAt  time.Time  `bson:"login_at" json:"login_at"`
	LogoutAt *time.Time `bson:"logout_at" json:"logout_at"` // nil while the session is open

	// EndReason records how the entry was closed: "explicit" or "beacon".
	// Empty while the entry is open.
	EndReason string `bson:"end_reason,omitempty" json:"end_reason,omitempty"`
}

// Open reports whether the entry has no logout recorded yet.
func (e SessionEntry) Open() bool {
	return e.LogoutAt == nil
}

// SessionLog is the per-account session history document. There is at
// most one document per account (unique index on account_id) and at
// most one open entry in Sessions at any time; the write paths in the
// sessionlog store maintain that invariant.
type SessionLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	AccountID string             `bson:"account_id" json:"account_id"`
	Email     string             `bson:"email" json:"email"`
	EmailCI   string             `bson:"email_ci" json:"-"`
	Sessions  []SessionEntry     `bson:"sessions" json:"sessions"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// OpenEntry returns the index of the open entry in Sessions, or -1 if
// every entry is closed.
func (l *SessionLog) OpenEntry() int {
	for i, e := range l.Sessions {
		if e.Open() {
			return i
		}
	}
	return -1
}

// IsOnline reports whether the log contains an open entry. This is the
// authoritative presence check; the last_login/last_logout mirror on the
// admin document is only a fallback for accounts with no session log.
func (l *SessionLog) IsOnline() bool {
	return l.OpenEntry() >= 0
}

// LastLogin returns the most recent login time in the log, or nil if
// the log has no entries.
func (l *SessionLog) LastLogin() *time.Time {
	var latest *time.Time
	for i := range l.Sessions {
		t := l.Sessions[i].LoginAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}

// LastLogout returns the most recent logout time in the log, or nil if
// no entry has been closed yet.
func (l *SessionLog) LastLogout() *time.Time {
	var latest *time.Time
	for i := range l.Sessions {
		t := l.Sessions[i].LogoutAt
		if t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return latest
}
