//go:build !linux

package forward

import (
	"fmt"
	"runtime"
)

func setSendOptions(fd int, ifaceName string) error {
	return fmt.Errorf("binding a send socket to %s is not supported on %s", ifaceName, runtime.GOOS)
}
