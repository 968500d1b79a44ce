package ingestion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "embedding", 10)

	tracker.Start(100)
	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	output := buf.String()
	assert.Contains(t, output, "embedding: 100/100")
	assert.Contains(t, output, "100.0%")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "embedding", 1)

	tracker.Increment(5)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_FinishReportsActual(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "embedding", 100)

	tracker.Start(10)
	tracker.Increment(4)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "4/10")
	assert.Contains(t, output, "\n")
}

func TestProgressTracker_IncrementBeyondTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "chunks", 1)

	tracker.Start(3)
	tracker.Increment(10)

	assert.Contains(t, buf.String(), "3/3")
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "chunks", 1)

	tracker.Start(0)
	tracker.Finish()

	assert.Contains(t, buf.String(), "0/0")
}
