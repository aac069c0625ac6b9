//go:build !windows

package bot

import "io/fs"

// isExecutable checks any of the user/group/other execute bits.
func isExecutable(_ string, info fs.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}
