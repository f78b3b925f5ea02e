/*
Package httpserver runs an HTTP server as a system service, shutting it down
gracefully when the system stops, and reports connection gauges through the
system metrics worker.
*/
package httpserver
