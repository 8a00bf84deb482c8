package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ledger taxonomy. Callers branch with errors.Is;
// typed variants below carry details and unwrap to these.
var (
	// ErrQuotaExceeded means the operation would push a counter past its
	// limit. Nothing was applied. This is a normal control-flow result,
	// not a backend failure.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidState means the requested transition is illegal for the
	// asset's current state.
	ErrInvalidState = errors.New("invalid asset state")

	// ErrInvalidParent means the parent asset is missing, deleted, or
	// owned by another account.
	ErrInvalidParent = errors.New("invalid parent asset")

	// ErrNotFound means the asset does not exist.
	ErrNotFound = errors.New("asset not found")

	// ErrAccountNotFound means the account row does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrForbidden means the requester is neither the owner nor an admin.
	ErrForbidden = errors.New("forbidden")

	// ErrStorageBackend means the blob store failed transiently. The
	// caller retries with backoff; the asset is left in its current state
	// for the stale sweep to reconcile.
	ErrStorageBackend = errors.New("storage backend unavailable")

	// ErrLedgerConflict means concurrent transactions kept colliding past
	// the bounded retry budget.
	ErrLedgerConflict = errors.New("ledger conflict")
)

// QuotaScope identifies which counter denied an operation.
type QuotaScope string

const (
	ScopeStorage QuotaScope = "storage"
	ScopeFeature QuotaScope = "feature"
)

// QuotaExceededError reports a denied reservation or charge with the
// counter values at decision time.
type QuotaExceededError struct {
	Scope     QuotaScope
	Feature   string // empty for storage denials
	Used      int64
	Limit     int64
	Requested int64
}

func (e *QuotaExceededError) Error() string {
	if e.Scope == ScopeFeature {
		return fmt.Sprintf("quota exceeded: feature %s used %d of %d", e.Feature, e.Used, e.Limit)
	}
	return fmt.Sprintf("quota exceeded: storage used %d of %d, requested %d more", e.Used, e.Limit, e.Requested)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// InvalidStateError reports an illegal transition attempt.
type InvalidStateError struct {
	AssetID   string
	State     string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: asset %s is %s, cannot %s", e.AssetID, e.State, e.Attempted)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// IsDenied reports whether err is a quota denial of any scope.
func IsDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
