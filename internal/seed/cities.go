// Package seed ships the default city ring table and loads it into a
// gateway. Rings radiate out from the base city and drive search priority.
package seed

import (
	"context"
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/store"
)

//go:embed cities.yaml
var defaultCitiesYAML []byte

// DefaultCities returns the built-in city ring table.
func DefaultCities() ([]model.City, error) {
	return parse(defaultCitiesYAML)
}

// Load reads a city ring table from a YAML file, falling back to the
// built-in table when path is empty.
func Load(path string) ([]model.City, error) {
	if path == "" {
		return DefaultCities()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	return parse(raw)
}

func parse(raw []byte) ([]model.City, error) {
	var cities []model.City
	if err := yaml.Unmarshal(raw, &cities); err != nil {
		return nil, eris.Wrap(err, "seed: decode cities")
	}
	for _, c := range cities {
		if c.Name == "" || c.Ring <= 0 {
			return nil, eris.Errorf("seed: invalid city entry %q (ring %d)", c.Name, c.Ring)
		}
	}
	return cities, nil
}

// Apply seeds the gateway's city table when it is empty. An already
// populated table is left alone so operator edits survive restarts.
func Apply(ctx context.Context, gw store.Gateway, cities []model.City) error {
	existing, err := gw.ListCities(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		zap.L().Debug("seed: cities already present", zap.Int("count", len(existing)))
		return nil
	}
	if err := gw.SeedCities(ctx, cities); err != nil {
		return err
	}
	zap.L().Info("seed: cities loaded", zap.Int("count", len(cities)))
	return nil
}
