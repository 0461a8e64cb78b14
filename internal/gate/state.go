// internal/gate/state.go
//
// Pipeline states and their log and metric names.
package gate

// State is a pipeline stage.  Forwarded, BlockedSuspended,
// BlockedRateLimited, and TenantRejected are terminal.
type State int

const (
	StateStart State = iota
	StateHostNormalized
	StateTenantResolved
	StateTenantRejected
	StateBillingChecked
	StateRateChecked
	StateForwarded
	StateBlockedSuspended
	StateBlockedRateLimited
)

var stateNames = [...]string{
	StateStart:              "start",
	StateHostNormalized:     "host_normalized",
	StateTenantResolved:     "tenant_resolved",
	StateTenantRejected:     "tenant_rejected",
	StateBillingChecked:     "billing_checked",
	StateRateChecked:        "rate_checked",
	StateForwarded:          "forwarded",
	StateBlockedSuspended:   "blocked_suspended",
	StateBlockedRateLimited: "blocked_rate_limited",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends the pipeline.
func (s State) Terminal() bool {
	switch s {
	case StateForwarded, StateBlockedSuspended, StateBlockedRateLimited, StateTenantRejected:
		return true
	}
	return false
}
