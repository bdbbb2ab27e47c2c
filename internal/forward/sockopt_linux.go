//go:build linux

package forward

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setSendOptions(fd int, ifaceName string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("setsockopt SO_BROADCAST: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifaceName); err != nil {
		return fmt.Errorf("bind to %s: %w", ifaceName, err)
	}
	return nil
}
