package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/caffeinebuddy/internal/catalog"
	"github.com/lazypower/caffeinebuddy/internal/kinetics"
	"github.com/lazypower/caffeinebuddy/internal/store"
	"go.uber.org/zap"
)

const (
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultTimelineStep = 15 * time.Minute
)

type drinkJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	AmountMg   float64   `json:"amount_mg"`
	VolumeMl   *float64  `json:"volume_ml,omitempty"`
	ConsumedAt time.Time `json:"consumed_at"`
	Icon       string    `json:"icon"`
	Notified   bool      `json:"notified"`
}

func toDrinkJSON(d store.Drink) drinkJSON {
	return drinkJSON{
		ID:         d.ID,
		Name:       d.Name,
		AmountMg:   d.AmountMg,
		VolumeMl:   d.VolumeMl,
		ConsumedAt: d.Consumed().UTC(),
		Icon:       catalog.IconFor(d.Name),
		Notified:   d.NotifiedAt != nil,
	}
}

// statusFor maps kinetics and drink validation errors to 400 and everything
// else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidDrink),
		errors.Is(err, kinetics.ErrInvalidRecord),
		errors.Is(err, kinetics.ErrInvalidModel),
		errors.Is(err, kinetics.ErrInvalidWindow),
		errors.Is(err, kinetics.ErrNoRecords):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// queryTime parses an RFC 3339 query parameter, falling back to def.
func queryTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"templates":      catalog.Templates(),
		"volume_options": catalog.VolumeOptions,
	})
}

type createDrinkRequest struct {
	Name       string     `json:"name" validate:"required_without=Template,max=100"`
	Template   string     `json:"template" validate:"omitempty,drinktemplate"`
	AmountMg   *float64   `json:"amount_mg" validate:"omitempty,gte=0,lte=2000"`
	VolumeMl   *float64   `json:"volume_ml" validate:"omitempty,gt=0,lte=5000"`
	ConsumedAt *time.Time `json:"consumed_at"`
}

// toDrink resolves a template into a name and dose. An explicit name or
// amount wins over the template's.
func (req createDrinkRequest) toDrink() (store.Drink, error) {
	d := store.Drink{Name: req.Name, VolumeMl: req.VolumeMl}
	if req.ConsumedAt != nil {
		d.ConsumedAt = req.ConsumedAt.UnixMilli()
	}

	if req.Template != "" {
		tmpl, _ := catalog.Lookup(req.Template)
		if d.Name == "" {
			d.Name = tmpl.Name
		}
		if req.AmountMg == nil {
			volume := tmpl.DefaultVolumeMl
			if req.VolumeMl != nil {
				volume = *req.VolumeMl
			}
			mg, err := tmpl.Dose(volume)
			if err != nil {
				return d, err
			}
			d.AmountMg = mg
			d.VolumeMl = &volume
			return d, nil
		}
	}

	if req.AmountMg == nil {
		return d, errors.New("amount_mg is required without a template")
	}
	d.AmountMg = *req.AmountMg
	return d, nil
}

func (s *Server) handleCreateDrink(w http.ResponseWriter, r *http.Request) {
	var req createDrinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := req.toDrink()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.db.AddDrink(d)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Debug("drink added",
		zap.String("drink_id", saved.ID),
		zap.String("name", saved.Name),
		zap.Float64("amount_mg", saved.AmountMg),
	)
	writeJSON(w, http.StatusCreated, toDrinkJSON(*saved))
}

func (s *Server) handleListDrinks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}

	drinks, err := s.db.ListDrinks(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]drinkJSON, len(drinks))
	for i, d := range drinks {
		out[i] = toDrinkJSON(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"drinks": out,
	})
}

func (s *Server) handleGetDrink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "drinkID")

	d, err := s.db.GetDrink(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "drink not found")
		return
	}
	writeJSON(w, http.StatusOK, toDrinkJSON(*d))
}

func (s *Server) handleDeleteDrink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "drinkID")

	d, err := s.db.GetDrink(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "drink not found")
		return
	}
	if err := s.db.DeleteDrink(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleDrinkStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "drinkID")
	at, err := queryTime(r, "at", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.engine.DrinkStatus(id, at)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "drink not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"drink": toDrinkJSON(st.Drink),
		"at":    at.UTC(),
		"status": map[string]any{
			"elapsed_hours":       st.Status.ElapsedHours,
			"remaining_mg":        st.Status.RemainingMg,
			"cleared":             st.Status.Cleared,
			"clearance_at":        st.Status.ClearanceAt.UTC(),
			"seconds_until_clear": st.Status.TimeUntilClear.Seconds(),
			"progress":            st.Status.Progress,
		},
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	at, err := queryTime(r, "at", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.engine.Analytics(at.In(s.loc))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	var clearance any
	if a.ClearanceAt != nil {
		clearance = a.ClearanceAt.UTC()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"at":           a.At.UTC(),
		"today_mg":     a.TodayMg,
		"current_mg":   a.CurrentMg,
		"clearance_at": clearance,
		"today_drinks": a.TodayDrinks,
		"model":        s.engine.Model,
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	day := kinetics.DayWindow(s.now().In(s.loc))

	from, err := queryTime(r, "from", day.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryTime(r, "to", day.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	step := defaultTimelineStep
	if v := r.URL.Query().Get("step"); v != "" {
		if step, err = time.ParseDuration(v); err != nil {
			writeError(w, http.StatusBadRequest, "step must be a duration like 15m")
			return
		}
	}

	samples, err := s.engine.Timeline(from, to, step)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from.UTC(),
		"to":      to.UTC(),
		"step":    step.String(),
		"samples": samples,
	})
}
