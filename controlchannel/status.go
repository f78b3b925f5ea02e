package controlchannel

import (
	"context"
	"strings"

	"github.com/grugmq/redeployer/o11y"
)

// Status is the value the supervisor writes back to the channel.
type Status string

const (
	StatusIdle       Status = ""
	StatusInProgress Status = "redeploy_in_progress"
	StatusSkipped    Status = "redeploy_skipped"

	donePrefix   = "redeploy_done_head_"
	failedPrefix = "redeploy_failed_"
)

// StatusDone reports a finished redeploy that is now running head.
func StatusDone(head string) Status {
	return Status(donePrefix + strings.TrimSpace(head))
}

// StatusFailed reports a redeploy that stopped at stage, such as "pull" or "build".
func StatusFailed(stage string) Status {
	return Status(failedPrefix + stage)
}

func (s Status) String() string {
	return string(s)
}

// Done reports whether s is a finished redeploy, and the head it reported.
func (s Status) Done() (head string, ok bool) {
	if !strings.HasPrefix(string(s), donePrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), donePrefix), true
}

// Failed reports whether s is a failed redeploy, and the stage it failed at.
func (s Status) Failed() (stage string, ok bool) {
	if !strings.HasPrefix(string(s), failedPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), failedPrefix), true
}

func addStatusFields(span o11y.Span, status Status) {
	span.AddField("status", status)
	if head, ok := status.Done(); ok {
		span.AddField("head", head)
	}
	if stage, ok := status.Failed(); ok {
		span.AddField("failed_stage", stage)
	}
}

// Channel is a best effort remote value. Read returns "" when the channel cannot be
// reached, and Write drops statuses it cannot deliver, reporting whether the status
// was stored.
type Channel interface {
	Read(ctx context.Context) string
	Write(ctx context.Context, status Status) (delivered bool)
}
