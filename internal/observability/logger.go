package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/logging"
)

// InitLogger applies the runtime logging profile, including the
// HONEYPOTS_LOG_* environment overrides, and tags every record with the
// application name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
