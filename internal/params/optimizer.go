package params

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Table maps every regime to its indicator parameters. The lookup is total:
// a table missing any regime row fails validation at load time instead of
// defaulting at runtime.
type Table struct {
	Regimes map[domain.Regime]domain.OptimalParameters `yaml:"regimes"`
}

// DefaultTable returns the shipped per-regime parameters.
func DefaultTable() Table {
	return Table{
		Regimes: map[domain.Regime]domain.OptimalParameters{
			domain.RegimeTrendingUp: {
				ConfidenceThreshold:  0.50,
				RSIPeriod:            14,
				EMAFast:              9,
				EMASlow:              21,
				MACDFast:             12,
				MACDSlow:             26,
				MACDSignal:           9,
				BollingerPeriod:      20,
				BollingerStd:         2.0,
				StopLossMultiplier:   1.5,
				TakeProfitMultiplier: 2.5,
			},
			domain.RegimeTrendingDown: {
				ConfidenceThreshold:  0.65,
				RSIPeriod:            14,
				EMAFast:              9,
				EMASlow:              21,
				MACDFast:             12,
				MACDSlow:             26,
				MACDSignal:           9,
				BollingerPeriod:      20,
				BollingerStd:         2.0,
				StopLossMultiplier:   1.2,
				TakeProfitMultiplier: 2.0,
			},
			domain.RegimeSideways: {
				ConfidenceThreshold:  0.58,
				RSIPeriod:            21,
				EMAFast:              12,
				EMASlow:              30,
				MACDFast:             12,
				MACDSlow:             26,
				MACDSignal:           9,
				BollingerPeriod:      20,
				BollingerStd:         2.0,
				StopLossMultiplier:   1.0,
				TakeProfitMultiplier: 1.6,
			},
			domain.RegimeVolatile: {
				ConfidenceThreshold:  0.70,
				RSIPeriod:            10,
				EMAFast:              7,
				EMASlow:              18,
				MACDFast:             8,
				MACDSlow:             21,
				MACDSignal:           7,
				BollingerPeriod:      14,
				BollingerStd:         2.5,
				StopLossMultiplier:   2.0,
				TakeProfitMultiplier: 3.0,
			},
		},
	}
}

// Validate checks the table is total and its rows sane.
func (t Table) Validate() error {
	for _, regime := range domain.Regimes() {
		row, ok := t.Regimes[regime]
		if !ok {
			return &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("missing row for regime %q", regime)}
		}
		if row.ConfidenceThreshold <= 0 || row.ConfidenceThreshold > 1 {
			return &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("regime %q: confidence_threshold %.2f outside (0,1]", regime, row.ConfidenceThreshold)}
		}
		if row.RSIPeriod <= 0 || row.EMAFast <= 0 || row.EMASlow <= row.EMAFast {
			return &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("regime %q: invalid indicator periods", regime)}
		}
		if row.StopLossMultiplier <= 0 || row.TakeProfitMultiplier <= 0 {
			return &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("regime %q: multipliers must be positive", regime)}
		}
	}
	for regime := range t.Regimes {
		if !regime.Valid() {
			return &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("unknown regime %q", regime)}
		}
	}
	return nil
}

// Optimizer serves regime-specific parameters from a versioned configuration
// file, with an explicit, logged reload path. Parameter tuning is data-driven
// configuration: the table is never rewritten at runtime by code.
type Optimizer struct {
	mu       sync.RWMutex
	table    Table
	path     string
	loadedAt time.Time
	modTime  time.Time
}

// NewOptimizer creates an optimizer over a validated table.
func NewOptimizer(table Table) (*Optimizer, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{table: table, loadedAt: time.Now()}, nil
}

// Load reads, validates, and installs the table from a YAML file.
func Load(path string) (*Optimizer, error) {
	table, modTime, err := readTable(path)
	if err != nil {
		return nil, err
	}
	opt, err := NewOptimizer(table)
	if err != nil {
		return nil, err
	}
	opt.path = path
	opt.modTime = modTime
	log.Info().Str("path", path).Msg("parameter table loaded")
	return opt, nil
}

func readTable(path string) (Table, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Table{}, time.Time{}, &domain.ConfigurationError{Section: "params", Message: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, time.Time{}, &domain.ConfigurationError{Section: "params", Message: err.Error()}
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, time.Time{}, &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	return table, info.ModTime(), nil
}

// ParametersFor returns the row for a regime. The table is validated total
// at load, so a miss here means an invalid regime value and is a
// configuration error.
func (o *Optimizer) ParametersFor(regime domain.Regime) (domain.OptimalParameters, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	row, ok := o.table.Regimes[regime]
	if !ok {
		return domain.OptimalParameters{}, &domain.ConfigurationError{Section: "params", Message: fmt.Sprintf("no row for regime %q", regime)}
	}
	return row, nil
}

// Reload re-reads the backing file when its mtime changed. A table that
// fails validation is rejected and the running table kept. Returns whether a
// new table was installed.
func (o *Optimizer) Reload() (bool, error) {
	if o.path == "" {
		return false, nil
	}

	info, err := os.Stat(o.path)
	if err != nil {
		return false, &domain.ConfigurationError{Section: "params", Message: err.Error()}
	}

	o.mu.RLock()
	unchanged := !info.ModTime().After(o.modTime)
	o.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	table, modTime, err := readTable(o.path)
	if err != nil {
		return false, err
	}
	if err := table.Validate(); err != nil {
		log.Error().Err(err).Str("path", o.path).Msg("parameter table reload rejected")
		return false, err
	}

	o.mu.Lock()
	o.table = table
	o.modTime = modTime
	o.loadedAt = time.Now()
	o.mu.Unlock()

	log.Info().Str("path", o.path).Msg("parameter table reloaded")
	return true, nil
}
