// Package procgroup starts commands in their own process group and signals the whole
// group, so anything a child forks is stopped along with it.
package procgroup
