// Package gates holds the independent safety checks that can veto an
// opening trade or a whole cycle.
package gates

import "fmt"

// VetoError is returned when a gate blocks a trade.
type VetoError struct {
	Gate   string
	Reason string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("%s veto: %s", e.Gate, e.Reason)
}
