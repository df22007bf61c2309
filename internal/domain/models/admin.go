// internal/domain/models/admin.go
package models

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The hex form of the admin's MongoDB ObjectID (_id),
//     used as the string key in session logs and API payloads
//   - Email / email: The address the admin signs in with (stored lowercase)

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Admin represents a staff account in the rental-marketplace back office.
//
// Auth fields:
//   - Email: What the admin types to sign in (stored lowercase)
//   - EmailCI: Case/diacritic-insensitive version for matching (folded)
//   - AuthMethod: google, password
//
// LastLogin and LastLogout mirror the account's session log. They are
// written best-effort after the session log and may lag behind it; the
// session log is authoritative for presence.
type Admin struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName   string             `bson:"full_name" json:"full_name"`
	FullNameCI string             `bson:"full_name_ci" json:"-"` // lowercase, diacritics-stripped

	// Authentication fields
	Email      string `bson:"email" json:"email"`        // sign-in address (lowercase)
	EmailCI    string `bson:"email_ci" json:"-"`         // folded for case/diacritic-insensitive matching
	AuthMethod string `bson:"auth_method" json:"auth_method"` // google, password

	// Password auth fields
	PasswordHash *string `bson:"password_hash,omitempty" json:"-"` // bcrypt hash (never in JSON)

	// Role and status
	Role   string `bson:"role" json:"role"`                         // admin, support, developer
	Status string `bson:"status,omitempty" json:"status,omitempty"` // active, disabled

	// Presence mirror (best-effort copy of the session log)
	LastLogin  *time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`
	LastLogout *time.Time `bson:"last_logout,omitempty" json:"last_logout,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// AccountID returns the string form of the admin's ObjectID, the key
// used throughout session logs and API payloads.
func (a *Admin) AccountID() string {
	return a.ID.Hex()
}

// Admin roles
const (
	RoleAdmin     = "admin"
	RoleSupport   = "support"
	RoleDeveloper = "developer"
)

// AllRoles returns all valid admin roles.
func AllRoles() []string {
	return []string{
		RoleAdmin,
		RoleSupport,
		RoleDeveloper,
	}
}

// IsValidRole checks if a role is valid.
func IsValidRole(role string) bool {
	for _, r := range AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}
