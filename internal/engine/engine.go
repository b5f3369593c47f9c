// Package engine ties the drink store to the kinetics model: it loads a
// snapshot of drinks, runs the pure kinetics functions over it, and drives
// the clearance reminder loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lazypower/caffeinebuddy/internal/kinetics"
	"github.com/lazypower/caffeinebuddy/internal/notify"
	"github.com/lazypower/caffeinebuddy/internal/store"
	"go.uber.org/zap"
)

// ActiveLookback is how far back drinks are loaded when estimating a level.
// After 48 hours even a large dose is far below any sensible threshold.
const ActiveLookback = 48 * time.Hour

// Engine computes analytics over stored drinks and sends clearance reminders.
type Engine struct {
	DB       *store.DB
	Model    kinetics.DecayModel
	Notifier notify.Notifier
	Logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Engine. A nil logger is replaced with a no-op logger.
func New(db *store.DB, model kinetics.DecayModel, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		DB:     db,
		Model:  model,
		Logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetNotifier configures where clearance reminders go.
func (e *Engine) SetNotifier(n notify.Notifier) {
	e.Notifier = n
}

// Analytics is the dashboard summary at a point in time.
type Analytics struct {
	At          time.Time  `json:"at"`
	TodayMg     float64    `json:"today_mg"`
	CurrentMg   float64    `json:"current_mg"`
	ClearanceAt *time.Time `json:"clearance_at"`
	TodayDrinks int        `json:"today_drinks"`
}

// Analytics returns today's intake, the current level and when the combined
// level will clear. "Today" is the calendar day of now in now's location.
func (e *Engine) Analytics(now time.Time) (*Analytics, error) {
	day := kinetics.DayWindow(now)
	start := day.Start
	if lb := now.Add(-ActiveLookback); lb.Before(start) {
		start = lb
	}

	drinks, err := e.DB.DrinksBetween(start, day.End)
	if err != nil {
		return nil, fmt.Errorf("load drinks: %w", err)
	}
	records := store.Records(drinks)

	a := &Analytics{At: now}
	if a.TodayMg, err = kinetics.TotalIntake(records, day); err != nil {
		return nil, err
	}
	for _, r := range records {
		if day.Contains(r.ConsumedAt) {
			a.TodayDrinks++
		}
	}

	// Only what has been consumed by now counts toward the level and clearance.
	var active []kinetics.IntakeRecord
	for _, r := range records {
		if !r.ConsumedAt.After(now) && !r.ConsumedAt.Before(now.Add(-ActiveLookback)) {
			active = append(active, r)
		}
	}
	if a.CurrentMg, err = kinetics.CurrentLevel(active, now, e.Model); err != nil {
		return nil, err
	}

	clearAt, err := kinetics.SystemClearanceInstant(active, e.Model)
	switch {
	case errors.Is(err, kinetics.ErrNoRecords):
	case err != nil:
		return nil, err
	default:
		a.ClearanceAt = &clearAt
	}
	return a, nil
}

// DrinkStatus is a single drink evaluated at a point in time.
type DrinkStatus struct {
	Drink  store.Drink         `json:"-"`
	Status kinetics.DoseStatus `json:"status"`
}

// DrinkStatus evaluates one drink at now. It returns nil if the drink does
// not exist.
func (e *Engine) DrinkStatus(id string, now time.Time) (*DrinkStatus, error) {
	d, err := e.DB.GetDrink(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	st, err := kinetics.DoseStatusAt(d.Record(), now, e.Model)
	if err != nil {
		return nil, err
	}
	return &DrinkStatus{Drink: *d, Status: st}, nil
}

// Timeline samples the level between from and to. Drinks from before `from`
// are included so their tails show up.
func (e *Engine) Timeline(from, to time.Time, step time.Duration) ([]kinetics.Sample, error) {
	drinks, err := e.DB.DrinksBetween(from.Add(-ActiveLookback), to.Add(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("load drinks: %w", err)
	}
	return kinetics.Timeline(store.Records(drinks), from, to, step, e.Model)
}

// CheckReminders notifies for every pending drink that has cleared by now and
// marks it notified. A drink whose notification fails everywhere stays pending
// and is retried on the next check. Returns the number of reminders sent.
func (e *Engine) CheckReminders(ctx context.Context, now time.Time) (int, error) {
	if e.Notifier == nil {
		return 0, nil
	}

	pending, err := e.DB.PendingReminders(now, ActiveLookback)
	if err != nil {
		return 0, fmt.Errorf("load pending reminders: %w", err)
	}

	sent := 0
	for _, d := range pending {
		clearAt, err := kinetics.ClearanceInstant(d.Record(), e.Model)
		if err != nil {
			e.Logger.Warn("skip reminder", zap.String("drink_id", d.ID), zap.Error(err))
			continue
		}
		if clearAt.After(now) {
			continue
		}

		r := notify.NewReminder(d.ID, d.Name, d.AmountMg, d.Consumed(), clearAt)
		if err := e.Notifier.Notify(ctx, r); err != nil {
			// A reminder that reached some notifiers is not resent to the others.
			var de *notify.DeliveryError
			if !errors.As(err, &de) || !de.Partial() {
				e.Logger.Warn("send reminder", zap.String("drink_id", d.ID), zap.Error(err))
				continue
			}
			e.Logger.Warn("reminder partially delivered", zap.String("drink_id", d.ID), zap.Error(err))
		}
		if err := e.DB.MarkNotified(d.ID, now); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// StartReminderTimer checks reminders once immediately and then every interval
// until Stop is called.
func (e *Engine) StartReminderTimer(interval time.Duration) {
	e.runReminders()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runReminders()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sent, err := e.CheckReminders(ctx, time.Now()); err != nil {
		e.Logger.Error("reminder check", zap.Error(err))
	} else if sent > 0 {
		e.Logger.Info("reminders sent", zap.Int("count", sent))
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
