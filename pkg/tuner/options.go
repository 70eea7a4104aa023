package tuner

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "redis", "sqlite" or "memory"
	addrs    []string
	password string
	db       int
	path     string

	owner        string
	workers      int
	pollInterval time.Duration

	seed        int64
	acquisition string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis stores trials in a Redis instance shared by every cooperating process.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedisDB selects the logical Redis database.
func WithRedisDB(db int) Option {
	return optionFunc(func(c *clientConfig) {
		c.db = db
	})
}

// WithSQLite stores trials in a SQLite file. Processes on one host may share it.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.path = path
	})
}

// WithMemory keeps trials in process memory (default).
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
	})
}

// WithOwner names this process in claimed trials. Defaults to a random id.
func WithOwner(owner string) Option {
	return optionFunc(func(c *clientConfig) {
		c.owner = owner
	})
}

// WithWorkers sets how many trials this client evaluates concurrently. Default: 1.
func WithWorkers(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.workers = n
	})
}

// WithPollInterval sets how long an idle worker waits before looking for work again.
// Default: 1s.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.pollInterval = d
	})
}

// WithSeed fixes the optimizer's random source.
func WithSeed(seed int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.seed = seed
	})
}

// WithAcquisition selects the acquisition function: ei (default), pi, lcb or thompson.
func WithAcquisition(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.acquisition = name
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}

// SearchOption configures one Search call.
type SearchOption func(*searchConfig)

type searchConfig struct {
	maxEvals    int
	maxQueueLen int
	maximize    bool
}

// MaxEvals sets the number of finished trials after which the search stops. Default: 40.
func MaxEvals(n int) SearchOption {
	return func(c *searchConfig) { c.maxEvals = n }
}

// MaxQueueLen bounds the trials that may be pending or running at once. Default: 20.
func MaxQueueLen(n int) SearchOption {
	return func(c *searchConfig) { c.maxQueueLen = n }
}

// Maximize treats the objective's value as a score to maximize.
func Maximize() SearchOption {
	return func(c *searchConfig) { c.maximize = true }
}
