package commands

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/config"
)

// newLogger builds a production logger for the json format and a
// development logger for console output
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level

	return zc.Build()
}
