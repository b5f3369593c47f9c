package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/caffeinebuddy/internal/kinetics"
)

// ErrInvalidDrink is returned by AddDrink for a blank name or a negative or
// non-finite amount or volume.
var ErrInvalidDrink = errors.New("invalid drink")

// Drink is a logged caffeinated drink. Timestamps are unix milliseconds.
type Drink struct {
	ID         string
	Name       string
	AmountMg   float64
	VolumeMl   *float64
	ConsumedAt int64
	CreatedAt  int64
	NotifiedAt *int64
}

// Consumed returns ConsumedAt as a time.Time.
func (d Drink) Consumed() time.Time {
	return time.UnixMilli(d.ConsumedAt)
}

// Record converts the drink into a kinetics intake record.
func (d Drink) Record() kinetics.IntakeRecord {
	return kinetics.IntakeRecord{
		ID:         d.ID,
		AmountMg:   d.AmountMg,
		ConsumedAt: d.Consumed(),
	}
}

// Records converts drinks into intake records.
func Records(drinks []Drink) []kinetics.IntakeRecord {
	out := make([]kinetics.IntakeRecord, len(drinks))
	for i, d := range drinks {
		out[i] = d.Record()
	}
	return out
}

const drinkColumns = `id, name, amount_mg, volume_ml, consumed_at, created_at, notified_at`

func scanDrink(sc interface{ Scan(...any) error }) (Drink, error) {
	var d Drink
	var volume sql.NullFloat64
	var notified sql.NullInt64
	if err := sc.Scan(&d.ID, &d.Name, &d.AmountMg, &volume, &d.ConsumedAt, &d.CreatedAt, &notified); err != nil {
		return d, err
	}
	if volume.Valid {
		d.VolumeMl = &volume.Float64
	}
	if notified.Valid {
		d.NotifiedAt = &notified.Int64
	}
	return d, nil
}

// AddDrink inserts a drink. An empty ID is replaced with a new UUID and a zero
// ConsumedAt with the current time. The stored drink is returned.
func (db *DB) AddDrink(d Drink) (*Drink, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, fmt.Errorf("add drink: %w: name required", ErrInvalidDrink)
	}
	if d.AmountMg < 0 || math.IsNaN(d.AmountMg) || math.IsInf(d.AmountMg, 0) {
		return nil, fmt.Errorf("add drink: %w: amount %v mg", ErrInvalidDrink, d.AmountMg)
	}
	if d.VolumeMl != nil && *d.VolumeMl < 0 {
		return nil, fmt.Errorf("add drink: %w: volume %v ml", ErrInvalidDrink, *d.VolumeMl)
	}

	now := time.Now().UnixMilli()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ConsumedAt == 0 {
		d.ConsumedAt = now
	}
	d.CreatedAt = now
	d.NotifiedAt = nil

	var volume sql.NullFloat64
	if d.VolumeMl != nil {
		volume = sql.NullFloat64{Float64: *d.VolumeMl, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO drinks (id, name, amount_mg, volume_ml, consumed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Name, d.AmountMg, volume, d.ConsumedAt, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert drink: %w", err)
	}
	return &d, nil
}

// GetDrink returns a drink by ID, or nil if it does not exist.
func (db *DB) GetDrink(id string) (*Drink, error) {
	row := db.QueryRow(`SELECT `+drinkColumns+` FROM drinks WHERE id = ?`, id)
	d, err := scanDrink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drink: %w", err)
	}
	return &d, nil
}

// DeleteDrink removes a drink. Deleting an unknown ID is an error.
func (db *DB) DeleteDrink(id string) error {
	result, err := db.Exec(`DELETE FROM drinks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete drink: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("no drink found for %s", id)
	}
	return nil
}

// ListDrinks returns the most recent drinks, newest first.
func (db *DB) ListDrinks(limit int) ([]Drink, error) {
	return db.queryDrinks(`
		SELECT `+drinkColumns+`
		FROM drinks ORDER BY consumed_at DESC, created_at DESC LIMIT ?
	`, limit)
}

// DrinksBetween returns drinks consumed in [start, end), oldest first.
func (db *DB) DrinksBetween(start, end time.Time) ([]Drink, error) {
	return db.queryDrinks(`
		SELECT `+drinkColumns+`
		FROM drinks WHERE consumed_at >= ? AND consumed_at < ?
		ORDER BY consumed_at ASC
	`, start.UnixMilli(), end.UnixMilli())
}

// DrinksSince returns drinks consumed at or after t, oldest first.
func (db *DB) DrinksSince(t time.Time) ([]Drink, error) {
	return db.queryDrinks(`
		SELECT `+drinkColumns+`
		FROM drinks WHERE consumed_at >= ?
		ORDER BY consumed_at ASC
	`, t.UnixMilli())
}

// PendingReminders returns drinks consumed within lookback of now that have
// not had a clearance reminder sent yet.
func (db *DB) PendingReminders(now time.Time, lookback time.Duration) ([]Drink, error) {
	return db.queryDrinks(`
		SELECT `+drinkColumns+`
		FROM drinks WHERE notified_at IS NULL AND consumed_at >= ? AND consumed_at <= ?
		ORDER BY consumed_at ASC
	`, now.Add(-lookback).UnixMilli(), now.UnixMilli())
}

// MarkNotified records that a clearance reminder was sent for a drink.
func (db *DB) MarkNotified(id string, at time.Time) error {
	_, err := db.Exec(`UPDATE drinks SET notified_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// CountDrinks returns the total number of logged drinks.
func (db *DB) CountDrinks() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM drinks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count drinks: %w", err)
	}
	return n, nil
}

func (db *DB) queryDrinks(query string, args ...any) ([]Drink, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query drinks: %w", err)
	}
	defer rows.Close()

	var drinks []Drink
	for rows.Next() {
		d, err := scanDrink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drink: %w", err)
		}
		drinks = append(drinks, d)
	}
	return drinks, rows.Err()
}
