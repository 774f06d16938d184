//go:build !linux && !darwin

package executor

import "os"

func maxRSSMB(*os.ProcessState) int64 {
	return 0
}
