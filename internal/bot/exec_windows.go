//go:build windows

package bot

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// isExecutable uses the file extension since Windows has no execute bit.
func isExecutable(p string, _ fs.FileInfo) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".exe", ".bat", ".cmd", ".com":
		return true
	}
	return false
}
