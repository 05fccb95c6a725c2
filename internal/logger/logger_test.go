package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_DefaultLevel(t *testing.T) {
	for _, env := range []string{"development", "production", ""} {
		log := New(env)
		if log.GetLevel() != zerolog.InfoLevel {
			t.Errorf("New(%q): expected info level, got %s", env, log.GetLevel())
		}
	}
}
