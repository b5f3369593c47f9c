// Package catalog holds the built-in drink templates and serving sizes used to
// turn "a 300 ml coffee" into milligrams of caffeine.
package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Template describes a kind of drink by its caffeine concentration.
type Template struct {
	Name             string  `json:"name"`
	CaffeinePer100ml float64 `json:"caffeine_per_100ml"`
	DefaultVolumeMl  float64 `json:"default_volume_ml"`
	Icon             string  `json:"icon"`
}

var (
	Coffee      = Template{Name: "Coffee", CaffeinePer100ml: 40, DefaultVolumeMl: 250, Icon: "cup.and.saucer"}
	Tea         = Template{Name: "Tea", CaffeinePer100ml: 20, DefaultVolumeMl: 200, Icon: "leaf"}
	EnergyDrink = Template{Name: "Energy Drink", CaffeinePer100ml: 32, DefaultVolumeMl: 250, Icon: "bolt"}
)

// VolumeOptions are the serving sizes offered when logging a drink, in ml.
var VolumeOptions = []float64{100, 150, 200, 250, 300, 350, 400, 500}

// Templates returns the built-in templates.
func Templates() []Template {
	return []Template{Coffee, Tea, EnergyDrink}
}

// Lookup finds a template by name. Matching ignores case, spaces, hyphens and
// underscores, so "energy-drink" finds "Energy Drink".
func Lookup(name string) (Template, bool) {
	key := normalize(name)
	for _, t := range Templates() {
		if normalize(t.Name) == key {
			return t, true
		}
	}
	return Template{}, false
}

// Names returns the template names, sorted.
func Names() []string {
	var names []string
	for _, t := range Templates() {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Dose returns the caffeine in mg for volumeMl of this drink.
// A zero volume means the template's default serving.
func (t Template) Dose(volumeMl float64) (float64, error) {
	if volumeMl == 0 {
		volumeMl = t.DefaultVolumeMl
	}
	if volumeMl < 0 || math.IsNaN(volumeMl) || math.IsInf(volumeMl, 0) {
		return 0, fmt.Errorf("invalid volume %v ml", volumeMl)
	}
	return t.CaffeinePer100ml * volumeMl / 100, nil
}

// IconFor returns the icon for a drink name, defaulting to the coffee cup.
func IconFor(name string) string {
	if t, ok := Lookup(name); ok {
		return t.Icon
	}
	return Coffee.Icon
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}
