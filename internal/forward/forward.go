// Package forward re-emits discovery payloads as limited broadcasts on a
// single interface.
package forward

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
)

// BroadcastAddr is the limited broadcast address every payload is sent to.
const BroadcastAddr = "255.255.255.255"

var broadcastAddr = netip.MustParseAddr(BroadcastAddr)

// Broadcaster sends payloads to BroadcastAddr out of one interface. Every
// send uses a fresh socket that is closed before Forward returns.
type Broadcaster struct {
	iface string
}

// NewBroadcaster returns a Broadcaster bound to the named interface.
func NewBroadcaster(ifaceName string) *Broadcaster {
	return &Broadcaster{iface: ifaceName}
}

// Interface returns the name of the target interface.
func (b *Broadcaster) Interface() string {
	return b.iface
}

// Forward sends payload unmodified to the limited broadcast address on port.
func (b *Broadcaster) Forward(ctx context.Context, payload []byte, port int) error {
	iface, err := net.InterfaceByName(b.iface)
	if err != nil {
		return fmt.Errorf("looking up interface %s: %w", b.iface, err)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, rawConn syscall.RawConn) error {
			var controlError error
			if err := rawConn.Control(func(fd uintptr) {
				controlError = setSendOptions(int(fd), b.iface)
			}); err != nil {
				return fmt.Errorf("raw control error: %w", err)
			}
			return controlError
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("opening send socket on %s: %w", b.iface, err)
	}
	defer conn.Close()

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(broadcastAddr, uint16(port)))
	cm := &ipv4.ControlMessage{IfIndex: iface.Index}
	if _, err := ipv4.NewPacketConn(conn).WriteTo(payload, cm, dst); err != nil {
		return fmt.Errorf("sending to %s via %s: %w", dst, b.iface, err)
	}
	return nil
}
