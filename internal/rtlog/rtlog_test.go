package rtlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, LevelWarn, false)

	lg.Info("should not appear")
	assert.Empty(t, buf.String())

	lg.Warn("disk at %d%%", 90)
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "disk at 90%")
}

func TestUncoloredOutputHasNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, LevelDebug, false)
	lg.Error("boom: %v", "oops")

	out := buf.String()
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "boom: oops")
	assert.False(t, strings.Contains(out, "\x1b["), "expected no ANSI escapes when color is disabled, got %q", out)
}

func TestColoredOutputCarriesEscapes(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, LevelDebug, true)
	lg.Debug("hello")

	assert.True(t, strings.Contains(buf.String(), "\x1b["), "expected an ANSI escape when color is enabled, got %q", buf.String())
}

// TestColorFromEnvNoColorWinsOverForceColor checks NO_COLOR takes
// precedence over FORCE_COLOR, per spec.md §6's listing of both variables
// with no stated precedence; NO_COLOR is the more conservative choice when
// both are set, since opting out of color is never surprising the way
// opting in unexpectedly would be. ColorFromEnv returns before touching out
// in this branch, so a nil *os.File is safe here.
func TestColorFromEnvNoColorWinsOverForceColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("FORCE_COLOR", "1")
	assert.False(t, ColorFromEnv(nil))
}

// TestColorFromEnvForceColorWithoutNoColor checks FORCE_COLOR alone forces
// color on, independent of whatever isatty would otherwise report.
func TestColorFromEnvForceColorWithoutNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, ColorFromEnv(nil))
}
