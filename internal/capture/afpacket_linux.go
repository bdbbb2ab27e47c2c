//go:build linux

package capture

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"
)

// AFPacket is an AF_PACKET TPACKET_V3 capture bound to one interface. It
// receives every EtherType.
type AFPacket struct {
	tpacket *afpacket.TPacket
	iface   *net.Interface
	closed  atomic.Bool
}

// Open creates a raw capture on the named interface.
func Open(ifaceName string, opts Options) (*AFPacket, error) {
	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferSize, opts.SnapLen)
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(ifaceName),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, classifyOpenError(ifaceName, err)
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		tp.Close()
		return nil, &OpenError{Kind: KindInterfaceBind, Interface: ifaceName, Err: err}
	}

	if len(opts.FilterPorts) > 0 {
		raw, err := DiscoveryFilter(opts.FilterPorts)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("attaching BPF filter on %s: %w", ifaceName, err)
		}
	}

	return &AFPacket{tpacket: tp, iface: iface}, nil
}

func classifyOpenError(ifaceName string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return &OpenError{Kind: KindPermissionDenied, Interface: ifaceName, Err: err}
	}
	return &OpenError{Kind: KindInterfaceBind, Interface: ifaceName, Err: err}
}

// Interface returns the bound interface.
func (h *AFPacket) Interface() *net.Interface {
	return h.iface
}

// ReadPacket returns the next frame, ErrTimeout when the poll timed out, or
// ErrClosed once the handle is closed.
func (h *AFPacket) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if h.closed.Load() {
		return nil, gopacket.CaptureInfo{}, ErrClosed
	}
	data, ci, err := h.tpacket.ReadPacketData()
	switch {
	case err == nil:
		return data, ci, nil
	case errors.Is(err, afpacket.ErrTimeout):
		return nil, ci, ErrTimeout
	case h.closed.Load():
		return nil, ci, ErrClosed
	default:
		return nil, ci, err
	}
}

// Stats returns the kernel ring counters.
func (h *AFPacket) Stats() (Stats, error) {
	if h.closed.Load() {
		return Stats{}, ErrClosed
	}
	_, v3, err := h.tpacket.SocketStats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Packets: v3.Packets(), Drops: v3.Drops()}, nil
}

// Close releases the socket and ring. It is safe to call more than once.
func (h *AFPacket) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.tpacket.Close()
	return nil
}
