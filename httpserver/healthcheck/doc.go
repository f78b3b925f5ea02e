/*
Package healthcheck serves the supervisor's admin API. It exposes the /live and /ready
checks of every component registered with the system, an optional /status snapshot of
the deploy loop, and the Go runtime's pprof handlers under /debug/pprof.
*/
package healthcheck
