/*
Package worker runs a loop that calls a unit of work repeatedly, tracing each
iteration and backing off when there is nothing to do.

The deploy loop and the system metrics reporter are both built on it.
*/
package worker
