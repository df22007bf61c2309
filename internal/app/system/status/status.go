// Package status provides the canonical admin account status values.
//
// Using these constants instead of string literals keeps the handlers,
// stores, and schema validators in agreement. They are plain strings (not a
// custom type) so they drop straight into MongoDB filters.
package status

// Admin account statuses. A disabled account cannot sign in but keeps its
// session and audit history.
const (
	Active   = "active"
	Disabled = "disabled"
)

// IsValid reports whether s is a recognized status value.
func IsValid(s string) bool {
	return s == Active || s == Disabled
}

// Default returns the status assigned to newly created accounts.
func Default() string {
	return Active
}
