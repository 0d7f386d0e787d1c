package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/domain"
)

func TestDefaultTable_CoversEveryRegime(t *testing.T) {
	opt, err := NewOptimizer(DefaultTable())
	require.NoError(t, err)

	for _, regime := range domain.Regimes() {
		row, err := opt.ParametersFor(regime)
		require.NoError(t, err, "regime %s", regime)
		assert.Positive(t, row.ConfidenceThreshold)
		assert.Positive(t, row.RSIPeriod)
	}
}

func TestDefaultTable_VolatileDemandsMoreThanTrendingUp(t *testing.T) {
	table := DefaultTable()
	assert.Greater(t,
		table.Regimes[domain.RegimeVolatile].ConfidenceThreshold,
		table.Regimes[domain.RegimeTrendingUp].ConfidenceThreshold)
}

func TestValidate_MissingRegimeRowFailsFast(t *testing.T) {
	table := DefaultTable()
	delete(table.Regimes, domain.RegimeSideways)

	_, err := NewOptimizer(table)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "sideways")
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	table := DefaultTable()
	row := table.Regimes[domain.RegimeVolatile]
	row.ConfidenceThreshold = 1.5
	table.Regimes[domain.RegimeVolatile] = row

	_, err := NewOptimizer(table)
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func writeTable(t *testing.T, path string, table Table) {
	t.Helper()
	data, err := yaml.Marshal(table)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoad_ReadsYAMLTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	writeTable(t, path, DefaultTable())

	opt, err := Load(path)
	require.NoError(t, err)

	row, err := opt.ParametersFor(domain.RegimeSideways)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable().Regimes[domain.RegimeSideways], row)
}

func TestReload_InstallsChangedTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	writeTable(t, path, DefaultTable())

	opt, err := Load(path)
	require.NoError(t, err)

	updated := DefaultTable()
	row := updated.Regimes[domain.RegimeSideways]
	row.ConfidenceThreshold = 0.61
	updated.Regimes[domain.RegimeSideways] = row
	writeTable(t, path, updated)
	bumpMtime(t, path)

	changed, err := opt.Reload()
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := opt.ParametersFor(domain.RegimeSideways)
	require.NoError(t, err)
	assert.Equal(t, 0.61, got.ConfidenceThreshold)
}

func TestReload_UnchangedFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	writeTable(t, path, DefaultTable())

	opt, err := Load(path)
	require.NoError(t, err)

	changed, err := opt.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReload_RejectsInvalidTableAndKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	writeTable(t, path, DefaultTable())

	opt, err := Load(path)
	require.NoError(t, err)

	broken := DefaultTable()
	delete(broken.Regimes, domain.RegimeVolatile)
	writeTable(t, path, broken)
	bumpMtime(t, path)

	changed, err := opt.Reload()
	assert.False(t, changed)
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	// The running table is untouched.
	row, err := opt.ParametersFor(domain.RegimeVolatile)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable().Regimes[domain.RegimeVolatile], row)
}

// bumpMtime pushes the file's mtime forward so a same-second rewrite still
// registers as a change.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}
