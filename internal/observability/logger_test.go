package observability

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/fkie-cad/honeypots/internal/logging"
)

func TestInitLoggerAppliesEnvLevelOverride(t *testing.T) {
	t.Setenv(logging.EnvLogLevel, "warn")
	InitLogger("honeypotd")
	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Fatalf("global level = %s, want %s", got, zerolog.WarnLevel)
	}
}
