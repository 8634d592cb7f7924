package logging

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Production environments get JSON
// output at Info; everything else gets the development console encoder.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
