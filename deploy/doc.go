/*
Package deploy runs the redeploy loop of the supervisor.

Every poll interval the loop reads the control channel. When it holds the redeploy
command the loop pulls the checkout, and if the head moved it builds the new release,
replaces the running child and reports the new head. Statuses are written back to the
same channel as the loop goes:

	redeploy_in_progress -> redeploy_skipped
	redeploy_in_progress -> redeploy_done_head_<head>
	redeploy_in_progress -> redeploy_failed_<head|pull|build|start>

A failed head, pull or build leaves the running child alone.

Shutdown stops the child process group, and the loop exits without starting another.
*/
package deploy
