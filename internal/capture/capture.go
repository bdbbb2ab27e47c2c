// Package capture opens raw link-layer captures bound to a single interface.
package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
)

var (
	// ErrTimeout is returned by ReadPacket when no frame arrived within the
	// poll timeout. It is not a failure.
	ErrTimeout = errors.New("capture: poll timeout")
	// ErrClosed is returned by ReadPacket after Close.
	ErrClosed = errors.New("capture: handle closed")
)

// Source is a raw frame source.
type Source interface {
	// ReadPacket blocks for at most the poll timeout and returns one frame.
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	Close() error
}

// Options configures a raw capture.
type Options struct {
	SnapLen     int
	BufferSize  int
	PollTimeout time.Duration
	// FilterPorts, when set, attaches a BPF program that only passes IPv4
	// UDP frames to these destination ports.
	FilterPorts []uint16
}

// DefaultOptions returns options suitable for discovery traffic.
func DefaultOptions() Options {
	return Options{
		SnapLen:     65536,
		BufferSize:  2 * 1024 * 1024,
		PollTimeout: 500 * time.Millisecond,
	}
}

// Stats is a snapshot of kernel capture counters.
type Stats struct {
	Packets uint
	Drops   uint
}

// Kind classifies fatal open failures.
type Kind int

const (
	// KindPermissionDenied means the process may not open raw sockets.
	KindPermissionDenied Kind = iota + 1
	// KindInterfaceBind means the socket could not be bound to the interface.
	KindInterfaceBind
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindInterfaceBind:
		return "interface bind failure"
	default:
		return "unknown"
	}
}

// OpenError reports a failure to acquire a capture handle.
type OpenError struct {
	Kind      Kind
	Interface string
	Err       error
}

func (e *OpenError) Error() string {
	if e.Kind == KindPermissionDenied {
		return fmt.Sprintf("raw capture on %s: %v (requires root or CAP_NET_RAW)", e.Interface, e.Err)
	}
	return fmt.Sprintf("cannot bind to interface '%s': %v", e.Interface, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IsPermissionDenied reports whether err is an OpenError of KindPermissionDenied.
func IsPermissionDenied(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe) && oe.Kind == KindPermissionDenied
}

// IsInterfaceBind reports whether err is an OpenError of KindInterfaceBind.
func IsInterfaceBind(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe) && oe.Kind == KindInterfaceBind
}

// ringSize lays out a TPACKET_V3 ring: frames are snapLen rounded up to a
// page and every block holds at least one frame.
func ringSize(bufferSize, snapLen int) (frameSize, blockSize, numBlocks int, err error) {
	pageSize := os.Getpagesize()
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	frameSize = (snapLen + pageSize - 1) / pageSize * pageSize
	blockSize = frameSize
	numBlocks = bufferSize / blockSize
	if numBlocks < 1 {
		return 0, 0, 0, fmt.Errorf("buffer size %d too small for frame size %d", bufferSize, frameSize)
	}
	return frameSize, blockSize, numBlocks, nil
}
