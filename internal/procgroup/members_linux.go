package procgroup

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// hasRunningMember scans /proc for a process in group pgid that is not a zombie.
// A killed orphan stays in the group until init reaps it, and may never be reaped
// inside a container.
func hasRunningMember(pgid int) bool {
	stats, err := filepath.Glob("/proc/[0-9]*/stat")
	if err != nil || len(stats) == 0 {
		return true
	}
	for _, path := range stats {
		b, err := os.ReadFile(path) //#nosec G304 // fixed /proc path
		if err != nil {
			// exited while scanning
			continue
		}
		state, group, ok := parseStat(b)
		if ok && group == pgid && state != 'Z' && state != 'X' {
			return true
		}
	}
	return false
}

// parseStat reads the state and process group from a /proc/<pid>/stat line, which is
// "pid (comm) state ppid pgrp ...". comm may itself contain spaces and parentheses.
func parseStat(b []byte) (state byte, pgrp int, ok bool) {
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return 0, 0, false
	}
	fields := bytes.Fields(b[i+1:])
	if len(fields) < 3 || len(fields[0]) != 1 {
		return 0, 0, false
	}
	pgrp, err := strconv.Atoi(string(fields[2]))
	if err != nil {
		return 0, 0, false
	}
	return fields[0][0], pgrp, true
}
