package domain

import "time"

// SaturationPolicy decides what a pool does when its queue and its
// extra-worker budget are both exhausted.
type SaturationPolicy string

const (
	// PolicyCallerRuns runs the task on the submitting goroutine.
	PolicyCallerRuns SaturationPolicy = "caller-runs"
	// PolicyReject fails the submission with ErrResourceExhausted.
	PolicyReject SaturationPolicy = "reject"
)

// Pool names.
const (
	PoolGeneral      = "general"
	PoolForecast     = "forecast"
	PoolImport       = "import"
	PoolNotification = "notification"
)

// PoolConfig sizes one named worker pool.
type PoolConfig struct {
	Name             string           `mapstructure:"-" json:"name"`
	CoreSize         int              `mapstructure:"core_size" json:"coreSize"`
	MaxSize          int              `mapstructure:"max_size" json:"maxSize"`
	QueueCapacity    int              `mapstructure:"queue_capacity" json:"queueCapacity"`
	KeepAlive        time.Duration    `mapstructure:"keep_alive" json:"keepAlive"`
	Policy           SaturationPolicy `mapstructure:"policy" json:"policy"`
	AwaitTermination time.Duration    `mapstructure:"await_termination" json:"awaitTermination"`
}

// PoolsConfig groups the four pools the executor runs.
type PoolsConfig struct {
	General      PoolConfig `mapstructure:"general"`
	Forecast     PoolConfig `mapstructure:"forecast"`
	Import       PoolConfig `mapstructure:"import"`
	Notification PoolConfig `mapstructure:"notification"`
}

// DefaultPoolsConfig mirrors the sizing the service has always shipped with.
func DefaultPoolsConfig() PoolsConfig {
	return PoolsConfig{
		General: PoolConfig{
			Name: PoolGeneral, CoreSize: 5, MaxSize: 10, QueueCapacity: 100,
			KeepAlive: 60 * time.Second, Policy: PolicyCallerRuns, AwaitTermination: 60 * time.Second,
		},
		Forecast: PoolConfig{
			Name: PoolForecast, CoreSize: 2, MaxSize: 5, QueueCapacity: 50,
			KeepAlive: 120 * time.Second, Policy: PolicyCallerRuns, AwaitTermination: 120 * time.Second,
		},
		Import: PoolConfig{
			Name: PoolImport, CoreSize: 3, MaxSize: 6, QueueCapacity: 20,
			KeepAlive: 60 * time.Second, Policy: PolicyCallerRuns, AwaitTermination: 60 * time.Second,
		},
		Notification: PoolConfig{
			Name: PoolNotification, CoreSize: 2, MaxSize: 5, QueueCapacity: 100,
			KeepAlive: 60 * time.Second, Policy: PolicyCallerRuns, AwaitTermination: 30 * time.Second,
		},
	}
}

// QueueOverflow is the Task Queue backpressure policy.
type QueueOverflow string

const (
	// QueueBlock makes Publish wait for space, the context, or close.
	QueueBlock QueueOverflow = "block"
	// QueueReject makes Publish fail fast with ErrQueueFull.
	QueueReject QueueOverflow = "reject"
)

type QueueConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	Overflow  QueueOverflow `mapstructure:"overflow"`
	Consumers int           `mapstructure:"consumers"`
}

type DispatchConfig struct {
	Schedule  string `mapstructure:"schedule"`
	BatchSize int    `mapstructure:"batch_size"`
}

type EngineConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	Burst              int           `mapstructure:"burst"`
	MaxForecastPeriods int           `mapstructure:"max_forecast_periods"`
}
