package controlchannel

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   string
	}{
		{name: "idle", status: StatusIdle, want: ""},
		{name: "in progress", status: StatusInProgress, want: "redeploy_in_progress"},
		{name: "skipped", status: StatusSkipped, want: "redeploy_skipped"},
		{name: "done", status: StatusDone("3f2a9c1"), want: "redeploy_done_head_3f2a9c1"},
		{name: "done trims head", status: StatusDone("3f2a9c1\n"), want: "redeploy_done_head_3f2a9c1"},
		{name: "failed", status: StatusFailed("build"), want: "redeploy_failed_build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Check(t, cmp.Equal(tt.status.String(), tt.want))
		})
	}
}

func TestStatus_Done(t *testing.T) {
	head, ok := StatusDone("3f2a9c1").Done()
	assert.Check(t, ok)
	assert.Check(t, cmp.Equal(head, "3f2a9c1"))

	_, ok = StatusSkipped.Done()
	assert.Check(t, !ok)
}

func TestStatus_Failed(t *testing.T) {
	stage, ok := StatusFailed("pull").Failed()
	assert.Check(t, ok)
	assert.Check(t, cmp.Equal(stage, "pull"))

	_, ok = StatusDone("3f2a9c1").Failed()
	assert.Check(t, !ok)
}
