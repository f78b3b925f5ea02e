//go:build unix && !linux

package procgroup

// hasRunningMember trusts the group signal, zombies are counted as members.
func hasRunningMember(int) bool {
	return true
}
