package cli

import (
	"encoding/json"
	"fmt"

	"github.com/okizar/swarmtap/internal/config"
	"github.com/okizar/swarmtap/internal/logger"
	"github.com/okizar/swarmtap/internal/tracing"
	"github.com/okizar/swarmtap/pkg/stream"
)

// setup loads configuration, initializes logging and tracing, and returns
// both. The --log-level flag wins over the config file when set.
func setup() (*config.Config, *logger.Logger, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}

	lg, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log := lg.Get()
	if err := tracing.Init("swarmtap"); err != nil {
		log.Warn().Err(err).Msg("Tracing unavailable")
	}

	return cfg, lg, nil
}

// frameInto unmarshals a frame's payload into a typed event payload
func frameInto(frame stream.Frame, v interface{}) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(frame.Payload, v)
}
