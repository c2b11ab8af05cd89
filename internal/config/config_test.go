package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EPHYS_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, -10.0, cfg.Analysis.SpikeThreshold)
	assert.Equal(t, 15.0, cfg.Analysis.DVDTThreshold)
	assert.Equal(t, 90.0, cfg.Classifier.Type2CutoffMs)
	assert.Equal(t, 256*datasize.MB, cfg.Loader.MaxFileSize)
	assert.Len(t, cfg.Classifier.SpikeCriteria, 3)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ephys.yaml")
	data := []byte(`
server:
  address: ":6000"
cache:
  enabled: true
  queryTTL: 5m
analysis:
  workers: 8
  spikeThreshold: -20
loader:
  dataGlob: /srv/cells/*.json
  maxFileSize: 64MB
classifier:
  sagCriteria:
    - property: curr_amplitude
      condition: "-300"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("EPHYS_ANALYSIS_WORKERS", "2")
	t.Setenv("EPHYS_STORE_DSN", "postgres://ephys@localhost/ephys")
	t.Setenv("EPHYS_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Address)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.QueryTTL)
	assert.Equal(t, 2, cfg.Analysis.Workers)
	assert.Equal(t, -20.0, cfg.Analysis.SpikeThreshold)
	assert.Equal(t, 64*datasize.MB, cfg.Loader.MaxFileSize)
	assert.Equal(t, "/srv/cells/*.json", cfg.Loader.DataGlob)
	assert.Equal(t, []CriterionConfig{{Property: "curr_amplitude", Condition: "-300"}}, cfg.Classifier.SagCriteria)
	assert.Equal(t, "postgres://ephys@localhost/ephys", cfg.Store.DSN)
	assert.True(t, cfg.Logging.JSON)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 15.0, cfg.Analysis.DVDTThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveWorkers(t *testing.T) {
	t.Setenv("EPHYS_CONFIG", "")
	t.Setenv("EPHYS_ANALYSIS_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
}
