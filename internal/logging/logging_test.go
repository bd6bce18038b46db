package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestSetup_DefaultLevelIsInfo(t *testing.T) {
	Setup(false, false, false)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetup_VerboseEnablesDebug(t *testing.T) {
	Setup(true, false, false)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetup_QuietWinsOverVerbose(t *testing.T) {
	Setup(true, true, false)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	assert.Equal(t, log.ErrorLevel, log.GetLevel())
}

func TestNew_PrefixAppearsInOutput(t *testing.T) {
	Setup(false, false, false)
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logger := New("scheduler")
	logger.Info("story assigned", "story", "US-001")

	out := buf.String()
	assert.Contains(t, out, "scheduler")
	assert.Contains(t, out, "story assigned")
	assert.Contains(t, out, "US-001")
}

func TestSetup_QuietSuppressesInfo(t *testing.T) {
	Setup(false, true, false)
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logger := New("state")
	logger.Info("should not appear")
	logger.Error("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}
