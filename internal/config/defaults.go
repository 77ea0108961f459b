package config

const (
	defaultDataDir            = "~/.local/share/facet/data"
	defaultLogDir             = "~/.local/share/facet/logs"
	defaultAPIBind            = "127.0.0.1:7410"
	defaultBatchSize          = 10
	defaultOverlap            = 2
	defaultMaxOverlap         = 5
	defaultPollInterval       = 5
	defaultPausePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultBatchDelay         = 1
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

var defaultAllowedBatchSizes = []int{10, 20}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			DefaultBatchSize:  defaultBatchSize,
			AllowedBatchSizes: append([]int{}, defaultAllowedBatchSizes...),
			DefaultOverlap:    defaultOverlap,
			MaxOverlap:        defaultMaxOverlap,
		},
		Processing: Processing{
			PollInterval:       defaultPollInterval,
			PausePollInterval:  defaultPausePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			BatchDelay:         defaultBatchDelay,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
