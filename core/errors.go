package core

import "errors"

// Sentinel errors forming the engine's error taxonomy. Stores must return
// these exact values (or wrap them) so callers can branch with errors.Is.
var (
	// ErrAccountNotFound is fatal to the operation that hit it.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by CreateAccount for a duplicate id.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance rejects a debit without mutating the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict signals store-level contention on an atomic mutation.
	// No partial write happened; the engine retries before surfacing it.
	ErrConflict = errors.New("concurrent update conflict")
)
