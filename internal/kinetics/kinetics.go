package kinetics

import (
	"fmt"
	"math"
	"time"
)

// ClearanceTolerance is the bracket width at which aggregate clearance
// bisection stops.
const ClearanceTolerance = time.Minute

// rootEpsilon absorbs rounding when an individual clearance instant is
// truncated to nanoseconds.
const rootEpsilon = 1e-9

// maxExtensions caps how many half-lives the clearance bracket may be pushed
// out. At the latest individual clearance the level is at most n times the
// threshold, so 64 half-lives covers any history that fits in memory.
const maxExtensions = 64

// Window is a half-open interval [Start, End). A zero bound is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// DayWindow returns the calendar day containing t in t's location.
func DayWindow(t time.Time) Window {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// TotalIntake sums AmountMg over records consumed inside w.
func TotalIntake(records []IntakeRecord, w Window) (float64, error) {
	if err := validateAll(records); err != nil {
		return 0, err
	}
	total := 0.0
	for _, r := range records {
		if w.Contains(r.ConsumedAt) {
			total += r.AmountMg
		}
	}
	return total, nil
}

// CurrentLevel estimates residual caffeine in mg at asOf.
func CurrentLevel(records []IntakeRecord, asOf time.Time, m DecayModel) (float64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	if err := validateAll(records); err != nil {
		return 0, err
	}
	return level(records, asOf, m), nil
}

// level assumes validated input.
func level(records []IntakeRecord, asOf time.Time, m DecayModel) float64 {
	total := 0.0
	for _, r := range records {
		total += m.remaining(r.AmountMg, hoursBetween(r.ConsumedAt, asOf))
	}
	return total
}

// ClearanceInstant is when a single dose decays to the clearance threshold.
// Doses at or below the threshold are cleared at ConsumedAt.
func ClearanceInstant(r IntakeRecord, m DecayModel) (time.Time, error) {
	if err := m.Validate(); err != nil {
		return time.Time{}, err
	}
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	return clearance(r, m), nil
}

func clearance(r IntakeRecord, m DecayModel) time.Time {
	if r.AmountMg <= m.ClearanceThresholdMg {
		return r.ConsumedAt
	}
	hours := math.Log(r.AmountMg/m.ClearanceThresholdMg) / m.DecayRatePerHour()
	return addHours(r.ConsumedAt, hours)
}

// SystemClearanceInstant is when the combined level of all records falls to
// the clearance threshold, found by bisection to within ClearanceTolerance.
//
// After the latest consumption instant the level only decreases, so that
// instant is the lower bound. The latest individual clearance instant is the
// first upper bound; overlapping tails can still sum above the threshold
// there, in which case the upper bound is pushed out one half-life at a time.
// The result is the upper end of the final bracket.
func SystemClearanceInstant(records []IntakeRecord, m DecayModel) (time.Time, error) {
	if err := m.Validate(); err != nil {
		return time.Time{}, err
	}
	if len(records) == 0 {
		return time.Time{}, ErrNoRecords
	}
	if err := validateAll(records); err != nil {
		return time.Time{}, err
	}

	lo := records[0].ConsumedAt
	hi := clearance(records[0], m)
	for _, r := range records[1:] {
		if r.ConsumedAt.After(lo) {
			lo = r.ConsumedAt
		}
		if c := clearance(r, m); c.After(hi) {
			hi = c
		}
	}

	threshold := m.ClearanceThresholdMg
	if level(records, lo, m) <= threshold {
		return lo, nil
	}
	if hi.Before(lo) {
		hi = lo
	}

	step := time.Duration(m.HalfLifeHours * float64(time.Hour))
	for i := 0; level(records, hi, m) > threshold*(1+rootEpsilon); i++ {
		if i == maxExtensions {
			return time.Time{}, fmt.Errorf("%w: level still above %v mg %d half-lives past the last clearance", ErrInvalidModel, threshold, maxExtensions)
		}
		lo = hi
		hi = hi.Add(step)
	}

	for hi.Sub(lo) > ClearanceTolerance {
		mid := lo.Add(hi.Sub(lo) / 2)
		if level(records, mid, m) > threshold {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// DoseStatus describes a single dose at a point in time.
type DoseStatus struct {
	ElapsedHours   float64       `json:"elapsed_hours"`
	RemainingMg    float64       `json:"remaining_mg"`
	Cleared        bool          `json:"cleared"`
	ClearanceAt    time.Time     `json:"clearance_at"`
	TimeUntilClear time.Duration `json:"time_until_clear"`
	Progress       float64       `json:"progress"`
}

// DoseStatusAt evaluates one record at asOf. Progress runs from 0 at
// consumption to 1 at the clearance instant.
func DoseStatusAt(r IntakeRecord, asOf time.Time, m DecayModel) (DoseStatus, error) {
	if err := m.Validate(); err != nil {
		return DoseStatus{}, err
	}
	if err := r.Validate(); err != nil {
		return DoseStatus{}, err
	}

	elapsed := hoursBetween(r.ConsumedAt, asOf)
	remaining := m.remaining(r.AmountMg, elapsed)
	clearAt := clearance(r, m)

	until := clearAt.Sub(asOf)
	if until < 0 {
		until = 0
	}

	progress := 1.0
	if total := hoursBetween(r.ConsumedAt, clearAt); total > 0 {
		progress = math.Min(1, math.Max(0, elapsed/total))
	}

	return DoseStatus{
		ElapsedHours:   elapsed,
		RemainingMg:    remaining,
		Cleared:        !asOf.Before(clearAt),
		ClearanceAt:    clearAt,
		TimeUntilClear: until,
		Progress:       progress,
	}, nil
}

// Sample is one point of a level timeline.
type Sample struct {
	At      time.Time `json:"at"`
	LevelMg float64   `json:"level_mg"`
}

// MaxTimelineSamples bounds the size of a single Timeline call.
const MaxTimelineSamples = 10000

// Timeline samples CurrentLevel from `from` to `to` inclusive every step.
func Timeline(records []IntakeRecord, from, to time.Time, step time.Duration, m DecayModel) ([]Sample, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := validateAll(records); err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %s must be positive", ErrInvalidWindow, step)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if n := math.Floor(hoursBetween(from, to)/step.Hours()) + 1; n > MaxTimelineSamples {
		return nil, fmt.Errorf("%w: %.0f samples exceeds limit of %d", ErrInvalidWindow, n, MaxTimelineSamples)
	}

	var samples []Sample
	for t := from; !t.After(to); t = t.Add(step) {
		samples = append(samples, Sample{At: t, LevelMg: level(records, t, m)})
	}
	return samples, nil
}
