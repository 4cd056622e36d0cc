//go:build !linux

package hal

import (
	"fmt"
	"runtime"
)

// NewSysfs is only available on Linux.
func NewSysfs(SysfsConfig) (HAL, error) {
	return nil, fmt.Errorf("sysfs hal is not supported on %s", runtime.GOOS)
}
