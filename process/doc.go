/*
Package process supervises the single child server process of the redeployer.

The child runs as the leader of its own process group, so stopping it stops anything
it has forked. Its combined output is relayed to the console by a reader and a writer
goroutine that never block the child, and a reaper goroutine waits on its exit.

A child that exits on its own is logged and left stopped. Nothing restarts it until
the next redeploy.
*/
package process
