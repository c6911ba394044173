// Package engineconfig loads and validates the engine's tunable knobs
// (spec §6.5): search parameters, batch/time-control thresholds, cache
// sizing, and evaluator backend selection. Config is read through viper so
// it can come from environment variables, a file, or defaults, each earlier
// source overriding the later ones, the same precedence chain viper gives
// every config-driven teacher package; invalid values are fatal at startup rather than silently
// clamped, per spec §7.
package engineconfig

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds every knob the search, batch coordinator, and prediction
// cache read at startup. Fields are plain values, not viper.Viper itself,
// so the rest of the engine never takes a dependency on viper.
type Config struct {
	// PUCT / selection (spec §6.5, §4.3)
	CPuctInit                    float64
	CPuctBase                    float64
	LinearRate                   float64
	LinearDelay                  float64
	VirtualLossCoefficient       float64
	BackpropagationPuctThreshold float64
	EliminationBaseExponent      float64
	EliminationFraction          float64
	FirstPlayUrgencyRoot         float64
	FirstPlayUrgencyDefault      float64

	// Prediction cache (spec §4.2)
	PredictionCacheRequestGiB int
	PredictionCacheMinGiB    int

	// Batch coordinator (spec §4.7)
	NumWorkerThreads  int
	PredictionBatchSize int
	SlowstartThreads    int
	SlowstartNodes      int

	// Time control (spec §4.8)
	SearchNodeLimit    uint64
	SearchTimeLimitMs  int64
	PvPrintIntervalMs  int64

	// Evaluator backend selection
	EvaluatorBackend string // "local" or "remote"
	LocalModelPath   string
	RemoteServerAddr string
	RemoteModelName  string
	RemoteModelVersion string
	RemoteRetries    uint

	// Tablebase
	TablebasePath string

	// Self-play (spec §4.9/supplemented)
	RootDirichletAlpha   float64
	RootExplorationFraction float64
	SelfPlayTemperature  float64
	SelfPlaySamplingPlies int
	SelfPlayNodesPerMove  uint64
	SelfPlayWorkers       int
	SelfPlayMaxPlies      int

	// Moving-average value sampling (supplemented)
	MovingAverageBuild int
	MovingAverageCap   int

	// Endgame value decay / minimax rollback (spec §4.4, §4.6)
	ProgressDecayDivisor float64
	EndgameMaterialMax   int
	MinimaxVisitRatio    float64

	// Move diversity sampling (spec §4.6, §6.5); self-play sampling reuses
	// SelfPlaySamplingPlies/SelfPlayTemperature above.
	MoveDiversityPlies       int
	MoveDiversityTemperature float64
	MoveDiversityDelta       float64

	// Game-clock time control (spec §3.4, §4.8)
	TimeControlFractionOfRemaining float64
	AbsoluteMinimumMs              int64
	SafetyBufferMs                 int64

	// Journal (supplemented)
	JournalPath string
}

// Load reads configuration from environment variables prefixed
// CHESSENGINE_, a file (if present), and the defaults below, with the
// environment overriding the file and the file overriding the defaults, and
// validates the result. path may be empty to skip the file layer.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chessengine")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("engineconfig: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		CPuctInit:                    v.GetFloat64("cpuct_init"),
		CPuctBase:                    v.GetFloat64("cpuct_base"),
		LinearRate:                   v.GetFloat64("linear_rate"),
		LinearDelay:                  v.GetFloat64("linear_delay"),
		VirtualLossCoefficient:       v.GetFloat64("virtual_loss_coefficient"),
		BackpropagationPuctThreshold: v.GetFloat64("backpropagation_puct_threshold"),
		EliminationBaseExponent:      v.GetFloat64("elimination_base_exponent"),
		EliminationFraction:          v.GetFloat64("elimination_fraction"),
		FirstPlayUrgencyRoot:         v.GetFloat64("first_play_urgency_root"),
		FirstPlayUrgencyDefault:      v.GetFloat64("first_play_urgency_default"),

		PredictionCacheRequestGiB: v.GetInt("prediction_cache_request_gib"),
		PredictionCacheMinGiB:     v.GetInt("prediction_cache_min_gib"),

		NumWorkerThreads:    v.GetInt("num_worker_threads"),
		PredictionBatchSize: v.GetInt("prediction_batch_size"),
		SlowstartThreads:    v.GetInt("slowstart_threads"),
		SlowstartNodes:      v.GetInt("slowstart_nodes"),

		SearchNodeLimit:   uint64(v.GetInt64("search_node_limit")),
		SearchTimeLimitMs: v.GetInt64("search_time_limit_ms"),
		PvPrintIntervalMs: v.GetInt64("pv_print_interval_ms"),

		EvaluatorBackend:   v.GetString("evaluator_backend"),
		LocalModelPath:     v.GetString("local_model_path"),
		RemoteServerAddr:   v.GetString("remote_server_addr"),
		RemoteModelName:    v.GetString("remote_model_name"),
		RemoteModelVersion: v.GetString("remote_model_version"),
		RemoteRetries:      uint(v.GetInt("remote_retries")),

		TablebasePath: v.GetString("tablebase_path"),

		RootDirichletAlpha:      v.GetFloat64("root_dirichlet_alpha"),
		RootExplorationFraction: v.GetFloat64("root_exploration_fraction"),
		SelfPlayTemperature:     v.GetFloat64("self_play_temperature"),
		SelfPlaySamplingPlies:   v.GetInt("self_play_sampling_plies"),
		SelfPlayNodesPerMove:    uint64(v.GetInt64("self_play_nodes_per_move")),
		SelfPlayWorkers:         v.GetInt("self_play_workers"),
		SelfPlayMaxPlies:        v.GetInt("self_play_max_plies"),

		MovingAverageBuild: v.GetInt("moving_average_build"),
		MovingAverageCap:   v.GetInt("moving_average_cap"),

		ProgressDecayDivisor: v.GetFloat64("progress_decay_divisor"),
		EndgameMaterialMax:   v.GetInt("endgame_material_max"),
		MinimaxVisitRatio:    v.GetFloat64("minimax_visit_ratio"),

		MoveDiversityPlies:       v.GetInt("move_diversity_plies"),
		MoveDiversityTemperature: v.GetFloat64("move_diversity_temperature"),
		MoveDiversityDelta:       v.GetFloat64("move_diversity_delta"),

		TimeControlFractionOfRemaining: v.GetFloat64("time_control_fraction_of_remaining"),
		AbsoluteMinimumMs:              v.GetInt64("absolute_minimum_ms"),
		SafetyBufferMs:                 v.GetInt64("safety_buffer_ms"),

		JournalPath: v.GetString("journal_path"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cpuct_init", 1.25)
	v.SetDefault("cpuct_base", 19652.0)
	v.SetDefault("linear_rate", 1.0)
	v.SetDefault("linear_delay", 1.0)
	v.SetDefault("virtual_loss_coefficient", 1.0)
	v.SetDefault("backpropagation_puct_threshold", 0.02)
	v.SetDefault("elimination_base_exponent", 1.0)
	v.SetDefault("elimination_fraction", 0.0)
	v.SetDefault("first_play_urgency_root", 1.0)
	v.SetDefault("first_play_urgency_default", 0.3)

	v.SetDefault("prediction_cache_request_gib", 4)
	v.SetDefault("prediction_cache_min_gib", 1)

	v.SetDefault("num_worker_threads", 2)
	v.SetDefault("prediction_batch_size", 16)
	v.SetDefault("slowstart_threads", 1)
	v.SetDefault("slowstart_nodes", 4)

	v.SetDefault("search_node_limit", int64(0))
	v.SetDefault("search_time_limit_ms", int64(0))
	v.SetDefault("pv_print_interval_ms", int64(1000))

	v.SetDefault("evaluator_backend", "local")
	v.SetDefault("local_model_path", "")
	v.SetDefault("remote_server_addr", "")
	v.SetDefault("remote_model_name", "chessengine")
	v.SetDefault("remote_model_version", "1")
	v.SetDefault("remote_retries", 2)

	v.SetDefault("tablebase_path", "")

	v.SetDefault("root_dirichlet_alpha", 0.3)
	v.SetDefault("root_exploration_fraction", 0.25)
	v.SetDefault("self_play_temperature", 1.0)
	v.SetDefault("self_play_sampling_plies", 30)
	v.SetDefault("self_play_nodes_per_move", int64(800))
	v.SetDefault("self_play_workers", 4)
	v.SetDefault("self_play_max_plies", 512)

	v.SetDefault("moving_average_build", 0)
	v.SetDefault("moving_average_cap", 1)

	v.SetDefault("progress_decay_divisor", 8000.0)
	v.SetDefault("endgame_material_max", 12)
	v.SetDefault("minimax_visit_ratio", 0.1)

	v.SetDefault("move_diversity_plies", 0)
	v.SetDefault("move_diversity_temperature", 1.0)
	v.SetDefault("move_diversity_delta", 0.02)

	v.SetDefault("time_control_fraction_of_remaining", 0.05)
	v.SetDefault("absolute_minimum_ms", 10)
	v.SetDefault("safety_buffer_ms", 100)

	v.SetDefault("journal_path", "")
}

func (c *Config) validate() error {
	switch {
	case c.NumWorkerThreads <= 0:
		return fmt.Errorf("engineconfig: num_worker_threads must be positive, got %d", c.NumWorkerThreads)
	case c.PredictionBatchSize <= 0:
		return fmt.Errorf("engineconfig: prediction_batch_size must be positive, got %d", c.PredictionBatchSize)
	case c.PredictionCacheRequestGiB <= 0 || c.PredictionCacheRequestGiB&(c.PredictionCacheRequestGiB-1) != 0:
		return fmt.Errorf("engineconfig: prediction_cache_request_gib must be a positive power of two, got %d", c.PredictionCacheRequestGiB)
	case c.PredictionCacheMinGiB <= 0 || c.PredictionCacheMinGiB&(c.PredictionCacheMinGiB-1) != 0:
		return fmt.Errorf("engineconfig: prediction_cache_min_gib must be a positive power of two, got %d", c.PredictionCacheMinGiB)
	case c.PredictionCacheMinGiB > c.PredictionCacheRequestGiB:
		return fmt.Errorf("engineconfig: prediction_cache_min_gib (%d) exceeds prediction_cache_request_gib (%d)", c.PredictionCacheMinGiB, c.PredictionCacheRequestGiB)
	case c.EvaluatorBackend != "local" && c.EvaluatorBackend != "remote":
		return fmt.Errorf("engineconfig: evaluator_backend must be 'local' or 'remote', got %q", c.EvaluatorBackend)
	case c.EvaluatorBackend == "local" && c.LocalModelPath == "":
		return fmt.Errorf("engineconfig: local_model_path is required when evaluator_backend is 'local'")
	case c.EvaluatorBackend == "remote" && c.RemoteServerAddr == "":
		return fmt.Errorf("engineconfig: remote_server_addr is required when evaluator_backend is 'remote'")
	case c.EliminationFraction < 0 || c.EliminationFraction > 1:
		return fmt.Errorf("engineconfig: elimination_fraction must be in [0,1], got %f", c.EliminationFraction)
	case c.MoveDiversityDelta < 0:
		return fmt.Errorf("engineconfig: move_diversity_delta must be non-negative, got %f", c.MoveDiversityDelta)
	case c.TimeControlFractionOfRemaining <= 0 || c.TimeControlFractionOfRemaining > 1:
		return fmt.Errorf("engineconfig: time_control_fraction_of_remaining must be in (0,1], got %f", c.TimeControlFractionOfRemaining)
	case c.RootDirichletAlpha < 0:
		return fmt.Errorf("engineconfig: root_dirichlet_alpha must be non-negative, got %f", c.RootDirichletAlpha)
	case c.RootExplorationFraction < 0 || c.RootExplorationFraction > 1:
		return fmt.Errorf("engineconfig: root_exploration_fraction must be in [0,1], got %f", c.RootExplorationFraction)
	}
	log.Info().Interface("config", c).Msg("engineconfig-loaded")
	return nil
}
