package contracts

import (
	"errors"
	"fmt"
)

// ErrTraining marks a fatal model-fit failure. Runs that hit it must not
// leave a partial artifact behind.
var ErrTraining = errors.New("training failed")

// ErrLeakage marks a causality self-check failure: a feature row changed
// after perturbing source data dated strictly after the row's date.
var ErrLeakage = errors.New("leakage violation")

// ErrRunNotOpen is returned when finalizing a backtest run that was never
// created or was already finished.
var ErrRunNotOpen = errors.New("backtest run not open")

// InsufficientDataError reports that a stage has too little history, e.g.
// fewer price points than an indicator window or too few dates for the
// requested fold count. The caller can recover by widening the date range
// or relaxing requirements; it is never silently degraded.
type InsufficientDataError struct {
	What string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d, have %d", e.What, e.Need, e.Have)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}
