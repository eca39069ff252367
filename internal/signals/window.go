package signals

import (
	"time"

	"precursor/internal/errors"
)

// Window is a half-open time range [Since, Until).
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// NewWindow validates and returns a window. since >= until is rejected
// before any collector is contacted.
func NewWindow(since, until time.Time) (Window, error) {
	w := Window{Since: since, Until: until}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate returns INVALID_TIME_RANGE unless Since is strictly before Until.
func (w Window) Validate() error {
	if !w.Since.Before(w.Until) {
		return errors.New(errors.InvalidTimeRange, "window start must precede window end", nil).
			WithDetails(map[string]string{
				"since": w.Since.Format(time.RFC3339),
				"until": w.Until.Format(time.RFC3339),
			})
	}
	return nil
}

// Contains reports whether t lies in [Since, Until).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

// Days is the window length in days.
func (w Window) Days() float64 {
	return w.Until.Sub(w.Since).Hours() / 24
}
