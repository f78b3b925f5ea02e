/*
Package system manages the startup, running, metrics and shutdown of the supervisor.

Everything long-running (the deploy loop, the admin server, the metrics reporter)
is added as a service and run in one errgroup. The first service to return an error,
or a termination signal, cancels the rest. Cleanups then run in the order they were
added, which is how the child process is stopped before the supervisor exits.
*/
package system
