package observability

import (
	"os"

	"github.com/danmuck/webext/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and tags the process
// logger with the app name and pid. Worker and host logs interleave on one
// terminal, so the pid is always present.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Int("pid", os.Getpid()).Logger()
	log.Logger = logger
	return logger
}
