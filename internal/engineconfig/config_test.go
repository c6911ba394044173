package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestLoadDefaultsRejectMissingLocalModelPath(t *testing.T) {
	is := is.New(t)
	_, err := Load("")
	is.True(err != nil)
}

func TestLoadFromFileAppliesOverridesOnTopOfDefaults(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "local_model_path: /tmp/model.onnx\nnum_worker_threads: 8\n"
	is.NoErr(os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.NumWorkerThreads, 8)
	is.Equal(cfg.LocalModelPath, "/tmp/model.onnx")
	// Untouched defaults still apply.
	is.Equal(cfg.CPuctInit, 1.25)
}

func TestValidateRejectsNonPowerOfTwoCacheSize(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.PredictionCacheRequestGiB = 3
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsMinExceedingRequest(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.PredictionCacheMinGiB = 8
	cfg.PredictionCacheRequestGiB = 4
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsOutOfRangeEliminationFraction(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.EliminationFraction = 1.5
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsNegativeMoveDiversityDelta(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.MoveDiversityDelta = -0.1
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsZeroTimeControlFraction(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.TimeControlFractionOfRemaining = 0
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsNegativeRootDirichletAlpha(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.RootDirichletAlpha = -1
	is.True(cfg.validate() != nil)
}

func TestValidateRejectsOutOfRangeRootExplorationFraction(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	cfg.RootExplorationFraction = 1.1
	is.True(cfg.validate() != nil)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	is := is.New(t)
	cfg := validConfig()
	is.NoErr(cfg.validate())
}

func validConfig() *Config {
	return &Config{
		NumWorkerThreads:               2,
		PredictionBatchSize:            16,
		PredictionCacheRequestGiB:      4,
		PredictionCacheMinGiB:          1,
		EvaluatorBackend:               "local",
		LocalModelPath:                 "/tmp/model.onnx",
		EliminationFraction:            0.5,
		MoveDiversityDelta:             0.02,
		TimeControlFractionOfRemaining: 0.05,
		RootDirichletAlpha:             0.3,
		RootExplorationFraction:        0.25,
	}
}
