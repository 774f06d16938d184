//go:build linux || darwin

package executor

import (
	"os"
	"runtime"
	"syscall"
)

// maxRSSMB reports the peak resident set size of a finished process.
// Linux reports ru_maxrss in kilobytes, darwin in bytes.
func maxRSSMB(state *os.ProcessState) int64 {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	rss := int64(ru.Maxrss)
	if runtime.GOOS == "darwin" {
		return rss / (1024 * 1024)
	}
	return rss / 1024
}
