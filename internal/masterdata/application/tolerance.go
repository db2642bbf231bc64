package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
)

// ToleranceValues is the YAML shape of a tolerance pair. Values are kept as
// strings so that they parse straight into decimals.
type ToleranceValues struct {
	CashVariance  string `yaml:"cash_variance"`
	StockVariance string `yaml:"stock_variance"`
}

// ToleranceConfig defines network defaults plus per-station overrides.
type ToleranceConfig struct {
	Defaults ToleranceValues            `yaml:"defaults"`
	Stations map[string]ToleranceValues `yaml:"stations"`
}

// LoadToleranceConfig reads a tolerance file. An empty path yields an empty config.
func LoadToleranceConfig(path string) (ToleranceConfig, error) {
	var cfg ToleranceConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return ParseToleranceConfig(data)
}

// ParseToleranceConfig decodes and validates a YAML tolerance document.
func ParseToleranceConfig(data []byte) (ToleranceConfig, error) {
	var cfg ToleranceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if _, err := cfg.Defaults.tolerance(); err != nil {
		return cfg, fmt.Errorf("tolerance config: defaults: %w", err)
	}
	for stationID, values := range cfg.Stations {
		if _, err := values.tolerance(); err != nil {
			return cfg, fmt.Errorf("tolerance config: station %s: %w", stationID, err)
		}
	}
	return cfg, nil
}

func (v ToleranceValues) tolerance() (masterdata.ToleranceOverride, error) {
	var (
		tol masterdata.ToleranceOverride
		err error
	)
	if tol.CashVariance, err = parseThreshold(v.CashVariance); err != nil {
		return tol, fmt.Errorf("cash_variance: %w", err)
	}
	if tol.StockVariance, err = parseThreshold(v.StockVariance); err != nil {
		return tol, fmt.Errorf("stock_variance: %w", err)
	}
	return tol, nil
}

// parseThreshold leaves an empty value unset; "0" is a real threshold.
func parseThreshold(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if value.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("negative threshold %s", raw)
	}
	return decimal.NewNullDecimal(value), nil
}

// ToleranceResolver picks the thresholds that apply to a station.
//
// Precedence, most specific first: the station row, the file override for
// that station, the file defaults, then the built-in defaults.
type ToleranceResolver struct {
	cfg ToleranceConfig
}

// NewToleranceResolver constructs a resolver over a validated config.
func NewToleranceResolver(cfg ToleranceConfig) *ToleranceResolver {
	return &ToleranceResolver{cfg: cfg}
}

// Resolve returns the effective tolerance for station.
func (r *ToleranceResolver) Resolve(station masterdata.Station) masterdata.Tolerance {
	tol := masterdata.DefaultTolerance()
	if r != nil {
		if defaults, err := r.cfg.Defaults.tolerance(); err == nil {
			tol = tol.Merge(defaults)
		}
		if override, ok := r.cfg.Stations[station.ID]; ok {
			if values, err := override.tolerance(); err == nil {
				tol = tol.Merge(values)
			}
		}
	}
	return tol.Merge(station.Tolerance)
}
