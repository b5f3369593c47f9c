// Package kinetics estimates caffeine levels from a history of intake events
// using a single-compartment, first-order elimination model.
//
// Every function here is pure: inputs are never mutated, nothing is cached,
// nothing is logged. Callers own the records and decide how to present errors.
package kinetics

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default model parameters.
const (
	DefaultHalfLifeHours        = 5.0
	DefaultClearanceThresholdMg = 10.0
)

// MaxHalfLifeHours bounds the half-life so that every clearance horizon fits
// in a time.Duration. At this bound the widest possible ratio of amount to
// threshold (MaxFloat64 over the smallest positive float) clears in about
// 2.1e6 hours, under the Duration limit of about 2.56e6 hours.
const MaxHalfLifeHours = 1000.0

var (
	// ErrInvalidRecord is returned when a record has a negative or non-finite
	// amount, or a zero consumption instant.
	ErrInvalidRecord = errors.New("invalid intake record")
	// ErrInvalidModel is returned when the half-life or clearance threshold is
	// not a positive finite number.
	ErrInvalidModel = errors.New("invalid decay model")
	// ErrNoRecords is returned when aggregate clearance is requested for an
	// empty history.
	ErrNoRecords = errors.New("no intake records")
	// ErrInvalidWindow is returned for a timeline with a non-positive step or
	// an end before its start.
	ErrInvalidWindow = errors.New("invalid time window")
)

// IntakeRecord is one caffeine intake event.
type IntakeRecord struct {
	ID         string
	AmountMg   float64
	ConsumedAt time.Time
}

// Validate checks that the record can participate in a computation.
func (r IntakeRecord) Validate() error {
	if math.IsNaN(r.AmountMg) || math.IsInf(r.AmountMg, 0) {
		return fmt.Errorf("%w: %s: amount is not finite", ErrInvalidRecord, r.label())
	}
	if r.AmountMg < 0 {
		return fmt.Errorf("%w: %s: amount %.2f mg is negative", ErrInvalidRecord, r.label(), r.AmountMg)
	}
	if r.ConsumedAt.IsZero() {
		return fmt.Errorf("%w: %s: missing consumption time", ErrInvalidRecord, r.label())
	}
	return nil
}

func (r IntakeRecord) label() string {
	if r.ID == "" {
		return "record"
	}
	return "record " + r.ID
}

// DecayModel parameterises first-order elimination. The decay rate is always
// derived from HalfLifeHours.
type DecayModel struct {
	HalfLifeHours        float64 `json:"half_life_hours" toml:"half_life_hours"`
	ClearanceThresholdMg float64 `json:"clearance_threshold_mg" toml:"clearance_threshold_mg"`
}

// DefaultModel returns a 5 hour half-life with a 10 mg clearance threshold.
func DefaultModel() DecayModel {
	return DecayModel{
		HalfLifeHours:        DefaultHalfLifeHours,
		ClearanceThresholdMg: DefaultClearanceThresholdMg,
	}
}

// DecayRatePerHour is ln(2) / HalfLifeHours.
func (m DecayModel) DecayRatePerHour() float64 {
	return math.Ln2 / m.HalfLifeHours
}

// Validate reports ErrInvalidModel for non-positive or non-finite parameters
// and for a half-life above MaxHalfLifeHours.
func (m DecayModel) Validate() error {
	if !positiveFinite(m.HalfLifeHours) {
		return fmt.Errorf("%w: half-life %v hours must be positive", ErrInvalidModel, m.HalfLifeHours)
	}
	if m.HalfLifeHours > MaxHalfLifeHours {
		return fmt.Errorf("%w: half-life %v hours exceeds %v", ErrInvalidModel, m.HalfLifeHours, MaxHalfLifeHours)
	}
	if !positiveFinite(m.ClearanceThresholdMg) {
		return fmt.Errorf("%w: clearance threshold %v mg must be positive", ErrInvalidModel, m.ClearanceThresholdMg)
	}
	return nil
}

// remaining is the residual amount of a single dose after elapsed hours.
// Doses in the future contribute nothing.
func (m DecayModel) remaining(amountMg, elapsedHours float64) float64 {
	if elapsedHours < 0 {
		return 0
	}
	return amountMg * math.Exp(-m.DecayRatePerHour()*elapsedHours)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func validateAll(records []IntakeRecord) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// hoursBetween returns (to - from) in fractional hours. Unlike time.Sub it
// does not saturate for spans longer than a Duration can hold.
func hoursBetween(from, to time.Time) float64 {
	secs := float64(to.Unix() - from.Unix())
	nanos := float64(to.Nanosecond() - from.Nanosecond())
	return secs/3600 + nanos/float64(time.Hour)
}

const maxDurationHours = float64(math.MaxInt64) / float64(time.Hour)

// addHours offsets t by a fractional number of hours at nanosecond resolution.
// Offsets beyond the Duration range saturate instead of wrapping.
func addHours(t time.Time, hours float64) time.Time {
	switch {
	case hours >= maxDurationHours:
		return t.Add(time.Duration(math.MaxInt64))
	case hours <= -maxDurationHours:
		return t.Add(time.Duration(math.MinInt64))
	}
	return t.Add(time.Duration(hours * float64(time.Hour)))
}
