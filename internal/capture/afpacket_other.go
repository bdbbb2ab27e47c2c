//go:build !linux

package capture

import (
	"fmt"
	"net"
	"runtime"

	"github.com/google/gopacket"
)

// AFPacket would be an AF_PACKET capture, but this dummy implementation
// fails. The real implementation is in afpacket_linux.go.
type AFPacket struct{}

// Open always fails outside Linux.
func Open(ifaceName string, opts Options) (*AFPacket, error) {
	return nil, &OpenError{
		Kind:      KindInterfaceBind,
		Interface: ifaceName,
		Err:       fmt.Errorf("AF_PACKET capture not supported on %s", runtime.GOOS),
	}
}

// Interface returns nil; no interface is ever bound.
func (h *AFPacket) Interface() *net.Interface { return nil }

// ReadPacket always reports ErrClosed.
func (h *AFPacket) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, ErrClosed
}

// Stats always reports ErrClosed.
func (h *AFPacket) Stats() (Stats, error) { return Stats{}, ErrClosed }

// Close is a no-op.
func (h *AFPacket) Close() error { return nil }
