package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flag names shared by the CLI and ApplyOverrides.
const (
	FlagSpace          = "space"
	FlagTrainCommand   = "train-command"
	FlagTrainArguments = "train-arguments"
	FlagEvalCommand    = "eval-command"
	FlagMaximize       = "maximize"
	FlagStoreDriver    = "store-driver"
	FlagStoreAddr      = "store-addr"
	FlagStoreDB        = "store-db"
	FlagExpKey         = "exp-key"
	FlagWorkdir        = "workdir"
	FlagMaxQueueLen    = "max-queue-len"
	FlagMaxEvals       = "max-evals"
	FlagTrialTimeout   = "trial-timeout"
	FlagPollInterval   = "poll-interval"
	FlagWorkers        = "workers"
	FlagMetricsAddr    = "metrics-addr"
	FlagLogLevel       = "log-level"
	FlagSeed           = "seed"
	FlagAcquisition    = "acquisition"
)

// RegisterGlobalFlags adds the flags every command understands: trial store
// selection and logging.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.String(FlagStoreDriver, "", "trial store backend: redis, sqlite or memory")
	fs.String(FlagStoreAddr, "", "redis host:port (comma separated for a cluster) or sqlite file path")
	fs.Int(FlagStoreDB, 0, "redis database number")
	fs.String(FlagExpKey, "", "experiment key shared by all workers of one search")
	fs.String(FlagLogLevel, "", "log level: debug, info, warn, error")
}

// RegisterSearchFlags adds the search definition flags to fs.
func RegisterSearchFlags(fs *pflag.FlagSet) {
	fs.String(FlagSpace, "", "space definition: builtin:<name>, a .yaml/.yml/.json file or an executable plugin")
	fs.String(FlagTrainCommand, "", "base training invocation")
	fs.String(FlagTrainArguments, "", "fixed extra training arguments")
	fs.String(FlagEvalCommand, "", "evaluation invocation printing one number")
	fs.Bool(FlagMaximize, false, "maximize the evaluation output instead of minimizing it")
	fs.String(FlagWorkdir, "", "working directory of the train and eval commands")
	fs.Duration(FlagTrialTimeout, 0, "deadline for train plus eval of one trial (0 = none)")
	fs.Int64(FlagSeed, 0, "random seed (0 = time based)")
}

// RegisterRunFlags adds the coordinator flags to fs.
func RegisterRunFlags(fs *pflag.FlagSet) {
	fs.Int(FlagMaxQueueLen, 0, "maximum number of outstanding proposals (default 20)")
	fs.Int(FlagMaxEvals, 0, "total trial budget of the experiment (default 40)")
	fs.Duration(FlagPollInterval, 0, "wait between store polls when nothing can be claimed (default 1s)")
	fs.Int(FlagWorkers, 0, "coordinator loops run by this process (default 1)")
	fs.String(FlagMetricsAddr, "", "serve /healthz, /metrics and /trials on this address")
	fs.String(FlagAcquisition, "", "acquisition function: ei, pi, lcb, thompson")
}

// ApplyOverrides copies every flag that was set on fs into c. Flags win over the file.
func (c *Config) ApplyOverrides(fs *pflag.FlagSet) error {
	o := overrider{fs: fs}
	o.str(FlagSpace, &c.Search.Space)
	o.str(FlagTrainCommand, &c.Search.TrainCommand)
	o.str(FlagTrainArguments, &c.Search.TrainArguments)
	o.str(FlagEvalCommand, &c.Search.EvalCommand)
	o.boolean(FlagMaximize, &c.Search.Maximize)
	o.str(FlagWorkdir, &c.Search.Workdir)
	o.duration(FlagTrialTimeout, &c.Search.TrialTimeout)
	o.str(FlagStoreDriver, &c.Store.Driver)
	o.str(FlagStoreAddr, &c.Store.Addr)
	o.integer(FlagStoreDB, &c.Store.DB)
	o.str(FlagExpKey, &c.Search.ExpKey)
	o.integer(FlagMaxQueueLen, &c.Search.MaxQueueLen)
	o.integer(FlagMaxEvals, &c.Search.MaxEvals)
	o.duration(FlagPollInterval, &c.Search.PollInterval)
	o.integer(FlagWorkers, &c.Search.Workers)
	o.str(FlagMetricsAddr, &c.Metrics.Addr)
	o.str(FlagLogLevel, &c.Logging.Level)
	o.int64(FlagSeed, &c.Optimizer.Seed)
	o.str(FlagAcquisition, &c.Optimizer.Acquisition)
	return o.err
}

// overrider applies changed flags and keeps the first error.
type overrider struct {
	fs  *pflag.FlagSet
	err error
}

func (o *overrider) changed(name string) bool {
	return o.err == nil && o.fs.Lookup(name) != nil && o.fs.Changed(name)
}

func (o *overrider) fail(name string, err error) {
	if err != nil {
		o.err = errorf("flag --%s: %w", name, err)
	}
}

func (o *overrider) str(name string, dst *string) {
	if o.changed(name) {
		v, err := o.fs.GetString(name)
		o.fail(name, err)
		*dst = v
	}
}

func (o *overrider) boolean(name string, dst *bool) {
	if o.changed(name) {
		v, err := o.fs.GetBool(name)
		o.fail(name, err)
		*dst = v
	}
}

func (o *overrider) integer(name string, dst *int) {
	if o.changed(name) {
		v, err := o.fs.GetInt(name)
		o.fail(name, err)
		*dst = v
	}
}

func (o *overrider) int64(name string, dst *int64) {
	if o.changed(name) {
		v, err := o.fs.GetInt64(name)
		o.fail(name, err)
		*dst = v
	}
}

func (o *overrider) duration(name string, dst *time.Duration) {
	if o.changed(name) {
		v, err := o.fs.GetDuration(name)
		o.fail(name, err)
		*dst = v
	}
}
