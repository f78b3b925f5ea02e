/*
Package repository manages the checkout the supervisor deploys from. It pulls new
commits, reports the checked out head, and runs the release build.

Pull and build run as subprocesses in their own process group. Their output is relayed
to the console, and a non-zero exit is returned as a *CommandError so the caller can
decide not to restart anything.
*/
package repository
