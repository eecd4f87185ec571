package config

// DefaultConfig returns the built-in configuration. A missing config file
// is not an error; these values plus LECTERN_ environment overrides are
// enough to run.
func DefaultConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			Model:          "gpt-4o-mini",
			APIKey:         "${OPENAI_API_KEY}",
			RateLimit:      60,
			MaxRetries:     3,
			TimeoutSeconds: 120,
		},
		Speech: SpeechConfig{
			Model:          "tts-1-hd",
			Voice:          "onyx",
			Speed:          1.0,
			APIKey:         "${OPENAI_API_KEY}",
			RateLimit:      60,
			MaxRetries:     2,
			TimeoutSeconds: 300,
		},
		Scheduler: SchedulerConfig{
			ExtractWorkers:  3,
			SynthWorkers:    3,
			BatchSize:       3,
			MaxChars:        4500,
			SynthIntervalMS: 500,
		},
	}
}
