package oracle

import (
	"fmt"
	"strings"
)

// Validate checks a recommendation against the contract every oracle must
// satisfy: a defined action, an integer confidence in [0, 100], and
// non-empty reasoning. Invalid recommendations are excluded from
// aggregation rather than coerced.
func Validate(rec Recommendation) error {
	if !rec.Action.Defined() {
		return fmt.Errorf("undefined action %q", rec.Action)
	}
	if rec.Confidence < 0 || rec.Confidence > 100 {
		return fmt.Errorf("confidence %d outside [0, 100]", rec.Confidence)
	}
	if strings.TrimSpace(rec.Reasoning) == "" {
		return fmt.Errorf("empty reasoning")
	}
	if rec.Amount != nil && *rec.Amount < 0 {
		return fmt.Errorf("negative amount %f", *rec.Amount)
	}
	return nil
}
