package web

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/boardsheet/internal/core"
)

func snapshot(state core.JobState, total, processed int) core.JobStatus {
	return core.JobStatus{State: state, TotalRows: total, ProcessedRows: processed}
}

func TestProgressFeed_SendsStateChangesAndProgress(t *testing.T) {
	pending := snapshot(core.StatePending, 0, 0)
	f := newProgressFeed(nil, pending, -1)

	steps := []struct {
		snap core.JobStatus
		want bool
	}{
		{pending, true},
		{snapshot(core.StateInProgress, 3, 0), true},
		{snapshot(core.StateInProgress, 3, 0), false},
		{snapshot(core.StateInProgress, 3, 2), true},
		{snapshot(core.StateInProgress, 3, 2), false},
		{snapshot(core.StateCompleted, 3, 3), true},
	}
	for i, s := range steps {
		assert.Equal(t, s.want, f.wanted(s.snap), "step %d: %s processed=%d", i, s.snap.State, s.snap.ProcessedRows)
	}
}

func TestProgressFeed_ResumeCursor(t *testing.T) {
	running := snapshot(core.StateInProgress, 5, 2)

	f := newProgressFeed(nil, running, 2)
	assert.False(t, f.wanted(running), "already seen")
	assert.True(t, f.wanted(snapshot(core.StateInProgress, 5, 4)))
	assert.True(t, f.wanted(snapshot(core.StateFailed, 5, 4)), "terminal is always sent")

	f = newProgressFeed(nil, running, 0)
	assert.True(t, f.wanted(snapshot(core.StateInProgress, 5, 0)), "resuming from PENDING still learns the total")
}
