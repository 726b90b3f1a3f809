package orders

import (
	"errors"
	"fmt"
	"strings"

	"orderengine/src/risk"
)

// ErrNotFound is returned when an order or position does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation targets an order whose
// status does not permit it.
var ErrInvalidState = errors.New("order is not in a valid state for this operation")

// ValidationError reports user-correctable problems with an order intent.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RiskRejectedError carries the full risk verdict when validation rejects an
// order. No Order row exists when it is returned.
type RiskRejectedError struct {
	Reasons     []string
	Suggestions []string
	Metrics     risk.Metrics
}

func (e *RiskRejectedError) Error() string {
	return "order rejected by risk checks: " + strings.Join(e.Reasons, "; ")
}
