package config

const (
	defaultStateDir         = "~/.local/share/praxis"
	defaultLogDir           = "~/.local/share/praxis/logs"
	defaultAPIBind          = "127.0.0.1:7610"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultQueueCapacity    = 20
	defaultMaxQueryLength   = 500
	defaultAverageSeconds   = 45
	defaultRetentionSeconds = 300
	defaultPollInterval     = 5
	defaultErrorRetryDelay  = 10
	defaultResearchBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultResearchModel    = "google/gemini-3-flash-preview"
	defaultResearchTimeout  = 300
	defaultResearchTitle    = "Praxis Research"
	defaultNotifyTimeout    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Capacity:         defaultQueueCapacity,
			MaxQueryLength:   defaultMaxQueryLength,
			AverageSeconds:   defaultAverageSeconds,
			RetentionSeconds: defaultRetentionSeconds,
			PollInterval:     defaultPollInterval,
			ErrorRetryDelay:  defaultErrorRetryDelay,
		},
		Research: Research{
			BaseURL:        defaultResearchBaseURL,
			Model:          defaultResearchModel,
			Title:          defaultResearchTitle,
			TimeoutSeconds: defaultResearchTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Queued:         true,
			Starting:       true,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
