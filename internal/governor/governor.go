// Package governor enforces a per-project budget of autonomous actions a
// worker may take before mandatory human re-authorization.
package governor

import "context"

// Settings is the governance configuration and state for one project.
// Invariant: 0 <= Remaining <= Limit.
type Settings struct {
	Enabled   bool
	Limit     int
	Remaining int
}

// Defaults is applied lazily the first time a project is seen.
type Defaults struct {
	Enabled bool
	Limit   int
}

// DefaultLimit is the stock per-project action budget.
const DefaultLimit = 25

// StockDefaults returns the default governance configuration: enabled,
// DefaultLimit actions between check-ins.
func StockDefaults() Defaults {
	return Defaults{Enabled: true, Limit: DefaultLimit}
}

// Store is the shared counter backing the governor.
//
// CheckAndDecrement must be atomic with respect to concurrent callers for
// the same project: two callers racing for the last unit of budget must
// not both be allowed.
type Store interface {
	// CheckAndDecrement consumes one action if budget remains.
	// limitJustReached is true when this decrement hit exactly zero.
	// If governance is disabled for the project, the call is always
	// allowed and the counter is untouched.
	CheckAndDecrement(ctx context.Context, projectID string) (allowed, limitJustReached bool, err error)

	// GetSettings returns the project's settings, initializing defaults
	// on first access.
	GetSettings(ctx context.Context, projectID string) (Settings, error)

	// UpdateSettings applies the non-nil fields. Updating the limit
	// resets Remaining to the new limit.
	UpdateSettings(ctx context.Context, projectID string, limit *int, enabled *bool) (Settings, error)
}
