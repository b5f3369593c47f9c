package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lazypower/caffeinebuddy/internal/catalog"
	"github.com/lazypower/caffeinebuddy/internal/config"
	"github.com/lazypower/caffeinebuddy/internal/engine"
	"github.com/lazypower/caffeinebuddy/internal/store"
	"github.com/spf13/cobra"
)

// loadConfig reads --config, or the default path when the flag is empty.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openDB opens the database named by config (after env overrides), falling
// back to the default path.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// openEngine loads config and opens an engine for one-shot CLI commands.
func openEngine() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return engine.New(db, cfg.Model, nil), nil
}

// parseWhen accepts RFC 3339, a clock time today ("15:04"), or a duration ago ("90m").
func parseWhen(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		y, m, d := now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, now.Location()), nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (use RFC 3339, HH:MM, or a duration ago like 90m)", s)
}

// --- add command ---

var (
	addMg     float64
	addVolume float64
	addAt     string
)

var addCmd = &cobra.Command{
	Use:   "add [template|name]",
	Short: "Log a drink",
	Long: "Log a drink. With a template name (coffee, tea, energy-drink) the caffeine is " +
		"computed from --volume. Any other name needs --mg.",
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	name := strings.Join(args, " ")
	d, err := buildDrink(name, addMg, addVolume, cmd.Flags().Changed("mg"))
	if err != nil {
		return err
	}

	at, err := parseWhen(addAt, time.Now())
	if err != nil {
		return err
	}
	d.ConsumedAt = at.UnixMilli()

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.DB.Close()

	saved, err := eng.DB.AddDrink(d)
	if err != nil {
		return err
	}
	fmt.Printf("Logged %s: %.0f mg (%s)\n", saved.Name, saved.AmountMg, saved.ID)
	return nil
}

// buildDrink resolves a template or a free-form name into a drink.
func buildDrink(name string, mg, volume float64, mgSet bool) (store.Drink, error) {
	d := store.Drink{Name: name}
	if volume > 0 {
		d.VolumeMl = &volume
	}

	tmpl, ok := catalog.Lookup(name)
	if ok {
		d.Name = tmpl.Name
	}
	switch {
	case mgSet:
		d.AmountMg = mg
	case ok:
		dose, err := tmpl.Dose(volume)
		if err != nil {
			return d, err
		}
		if volume == 0 {
			v := tmpl.DefaultVolumeMl
			d.VolumeMl = &v
		}
		d.AmountMg = dose
	default:
		return d, fmt.Errorf("%q is not a template (%s); pass --mg", name, strings.Join(catalog.Names(), ", "))
	}
	return d, nil
}

// --- list command ---

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent drinks",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.DB.Close()

	drinks, err := eng.DB.ListDrinks(listLimit)
	if err != nil {
		return err
	}
	if len(drinks) == 0 {
		fmt.Println("No drinks logged yet.")
		return nil
	}
	printDrinks(os.Stdout, drinks, time.Now())
	return nil
}

func printDrinks(w io.Writer, drinks []store.Drink, now time.Time) {
	for _, d := range drinks {
		vol := ""
		if d.VolumeMl != nil {
			vol = fmt.Sprintf(" / %.0f ml", *d.VolumeMl)
		}
		fmt.Fprintf(w, "%s  %-14s %6.0f mg%s  %s\n",
			d.ID[:min(8, len(d.ID))], d.Name, d.AmountMg, vol, humanize.RelTime(d.Consumed(), now, "ago", "from now"))
	}
}

// --- rm command ---

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a drink",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.DB.Close()

	id, err := resolveID(eng.DB, args[0])
	if err != nil {
		return err
	}
	if err := eng.DB.DeleteDrink(id); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", id)
	return nil
}

// resolveID expands the short ID prefix printed by `list` to a full ID.
func resolveID(db *store.DB, prefix string) (string, error) {
	if d, err := db.GetDrink(prefix); err != nil {
		return "", err
	} else if d != nil {
		return d.ID, nil
	}

	drinks, err := db.ListDrinks(1000)
	if err != nil {
		return "", err
	}
	var match string
	for _, d := range drinks {
		if strings.HasPrefix(d.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = d.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no drink found for %s", prefix)
	}
	return match, nil
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show current caffeine level, or the status of one drink",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.DB.Close()

	now := time.Now()
	if len(args) == 1 {
		id, err := resolveID(eng.DB, args[0])
		if err != nil {
			return err
		}
		st, err := eng.DrinkStatus(id, now)
		if err != nil {
			return err
		}
		if st == nil {
			return errors.New("drink not found")
		}
		printDrinkStatus(os.Stdout, st, now)
		return nil
	}

	a, err := eng.Analytics(now)
	if err != nil {
		return err
	}
	printAnalytics(os.Stdout, a, eng.Model.ClearanceThresholdMg, now)
	return nil
}

func printAnalytics(w io.Writer, a *engine.Analytics, thresholdMg float64, now time.Time) {
	fmt.Fprintf(w, "Today:     %.0f mg (%d drinks)\n", a.TodayMg, a.TodayDrinks)
	fmt.Fprintf(w, "Current:   %.0f mg\n", a.CurrentMg)
	switch {
	case a.ClearanceAt == nil:
		fmt.Fprintln(w, "Clearance: nothing logged")
	case !a.ClearanceAt.After(now):
		fmt.Fprintf(w, "Clearance: below %.0f mg\n", thresholdMg)
	default:
		fmt.Fprintf(w, "Clearance: %s (%s)\n", a.ClearanceAt.Local().Format("Mon 15:04"), formatRemaining(a.ClearanceAt.Sub(now)))
	}
}

func printDrinkStatus(w io.Writer, st *engine.DrinkStatus, now time.Time) {
	s := st.Status
	fmt.Fprintf(w, "%s, %.0f mg, %s\n", st.Drink.Name, st.Drink.AmountMg, humanize.RelTime(st.Drink.Consumed(), now, "ago", "from now"))
	fmt.Fprintf(w, "Remaining: %.1f mg\n", s.RemainingMg)
	fmt.Fprintf(w, "Progress:  %.0f%%\n", s.Progress*100)
	if s.Cleared {
		fmt.Fprintln(w, "Status:    cleared")
		return
	}
	fmt.Fprintf(w, "Clears:    %s (%s)\n", s.ClearanceAt.Local().Format("Mon 15:04"), formatRemaining(s.TimeUntilClear))
}

// formatRemaining renders a duration as "3h 25m" or "25m".
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// --- templates command ---

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List built-in drink templates",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range catalog.Templates() {
			dose, _ := t.Dose(0)
			fmt.Printf("%-14s %4.0f mg/100ml  default %3.0f ml = %3.0f mg\n", t.Name, t.CaffeinePer100ml, t.DefaultVolumeMl, dose)
		}
		vols := make([]string, len(catalog.VolumeOptions))
		for i, v := range catalog.VolumeOptions {
			vols[i] = humanize.Ftoa(v)
		}
		fmt.Printf("\nVolumes (ml): %s\n", strings.Join(vols, ", "))
	},
}

func init() {
	addCmd.Flags().Float64Var(&addMg, "mg", 0, "Caffeine in mg (overrides the template)")
	addCmd.Flags().Float64VarP(&addVolume, "volume", "v", 0, "Volume in ml (default: template serving)")
	addCmd.Flags().StringVar(&addAt, "at", "", "When it was consumed: RFC 3339, HH:MM, or a duration ago like 90m")

	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of drinks")
}
