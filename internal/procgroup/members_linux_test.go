package procgroup

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestParseStat(t *testing.T) {
	tests := []struct {
		name  string
		stat  string
		state byte
		pgrp  int
		ok    bool
	}{
		{
			name:  "running",
			stat:  "4321 (sleep) S 4320 4320 4320 0 -1 4194560 95 0 0 0",
			state: 'S',
			pgrp:  4320,
			ok:    true,
		},
		{
			name:  "zombie",
			stat:  "4322 (grugmq) Z 1 4320 4320 0 -1",
			state: 'Z',
			pgrp:  4320,
			ok:    true,
		},
		{
			name:  "command with spaces and parens",
			stat:  "4323 (my (odd) cmd) R 4320 4320 4320 0",
			state: 'R',
			pgrp:  4320,
			ok:    true,
		},
		{
			name: "truncated",
			stat: "4324 (sleep) S",
		},
		{
			name: "garbage",
			stat: "nonsense",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, pgrp, ok := parseStat([]byte(tt.stat))
			assert.Check(t, cmp.Equal(ok, tt.ok))
			assert.Check(t, cmp.Equal(state, tt.state))
			assert.Check(t, cmp.Equal(pgrp, tt.pgrp))
		})
	}
}
