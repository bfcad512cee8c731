package config

import "time"

// GuardConfig holds runtime configuration for the loadguard daemon.
// Values are read once at startup; there is no hot reload.
type GuardConfig struct {
	Environment string
	Addr        string
	LogPretty   bool

	SampleInterval time.Duration

	MinWorkers     int
	SoftMaxWorkers int
	HardMaxWorkers int
	InitialBudget  int
	HistorySize    int
	AdaptWindow    int
	IncreaseAfter  int
	DecreaseFactor float64
	CPUHighWater   float64
	CPULowWater    float64
	MemHighWater   float64
	MemLowWater    float64

	BreakerFailureThreshold   int
	BreakerErrorRateThreshold float64
	BreakerWindowSize         int
	BreakerTimeout            time.Duration
	BreakerSuccessThreshold   int

	AlertSuppressionWindow time.Duration
	AlertRedisAddr         string
	AlertRedisPass         string
	AlertRedisDB           int
	AlertRedisChannel      string

	TelemetrySource string
	PrometheusURL   string

	DemoWorkload bool
	DemoUnits    int
}

// LoadGuardConfig constructs a GuardConfig from environment variables.
func LoadGuardConfig() GuardConfig {
	return GuardConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("LOADGUARD_ADDR", ":4600"),
		LogPretty:   GetBool("LOADGUARD_LOG_PRETTY", false),

		SampleInterval: GetSeconds("LOADGUARD_SAMPLE_SECONDS", 5*time.Second),

		MinWorkers:     GetInt("LOADGUARD_MIN_WORKERS", 2),
		SoftMaxWorkers: GetInt("LOADGUARD_SOFT_MAX_WORKERS", 16),
		HardMaxWorkers: GetInt("LOADGUARD_HARD_MAX_WORKERS", 32),
		InitialBudget:  GetInt("LOADGUARD_INITIAL_BUDGET", 8),
		HistorySize:    GetInt("LOADGUARD_HISTORY_SIZE", 120),
		AdaptWindow:    GetInt("LOADGUARD_ADAPT_WINDOW", 6),
		IncreaseAfter:  GetInt("LOADGUARD_INCREASE_AFTER", 3),
		DecreaseFactor: GetFloat("LOADGUARD_DECREASE_FACTOR", 0.75),
		CPUHighWater:   GetFloat("LOADGUARD_CPU_HIGH_WATER", 85),
		CPULowWater:    GetFloat("LOADGUARD_CPU_LOW_WATER", 60),
		MemHighWater:   GetFloat("LOADGUARD_MEM_HIGH_WATER", 90),
		MemLowWater:    GetFloat("LOADGUARD_MEM_LOW_WATER", 70),

		BreakerFailureThreshold:   GetInt("LOADGUARD_BREAKER_FAILURES", 5),
		BreakerErrorRateThreshold: GetFloat("LOADGUARD_BREAKER_ERROR_RATE", 0.5),
		BreakerWindowSize:         GetInt("LOADGUARD_BREAKER_WINDOW", 50),
		BreakerTimeout:            GetSeconds("LOADGUARD_BREAKER_TIMEOUT_SECONDS", 60*time.Second),
		BreakerSuccessThreshold:   GetInt("LOADGUARD_BREAKER_SUCCESSES", 2),

		AlertSuppressionWindow: GetSeconds("LOADGUARD_ALERT_SUPPRESSION_SECONDS", 30*time.Second),
		AlertRedisAddr:         GetString("LOADGUARD_ALERT_REDIS_ADDR", ""),
		AlertRedisPass:         GetString("LOADGUARD_ALERT_REDIS_PASSWORD", ""),
		AlertRedisDB:           GetInt("LOADGUARD_ALERT_REDIS_DB", 0),
		AlertRedisChannel:      GetString("LOADGUARD_ALERT_REDIS_CHANNEL", "loadguard:alerts"),

		TelemetrySource: GetString("LOADGUARD_TELEMETRY_SOURCE", "local"),
		PrometheusURL:   GetString("LOADGUARD_PROMETHEUS_URL", ""),

		DemoWorkload: GetBool("LOADGUARD_DEMO_WORKLOAD", false),
		DemoUnits:    GetInt("LOADGUARD_DEMO_UNITS", 4),
	}
}
