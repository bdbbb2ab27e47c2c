package bridge

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"slices"

	"github.com/google/gopacket/layers"
)

const (
	ethHeaderLen  = 14
	ipv4MinHeader = 20
	udpHeaderLen  = 8
	// MinFrameLen is the smallest frame that can hold Ethernet, IPv4 and UDP
	// headers.
	MinFrameLen = ethHeaderLen + ipv4MinHeader + udpHeaderLen
)

// Magic is the marker every Bambu Lab discovery payload carries.
const Magic = "urn:bambulab-com:device:3dprinter"

var (
	magic = []byte(Magic)
	ports = []uint16{1900, 2021}
)

// Ports returns the UDP destination ports printers announce themselves on.
func Ports() []uint16 {
	return slices.Clone(ports)
}

// Frame is one captured link-layer frame.
type Frame struct {
	Data []byte
	// IfIndex is the interface the frame arrived on, or 0 when the capture
	// does not report it.
	IfIndex int
}

// IPv4Header holds the fixed IPv4 header fields of a captured frame.
type IPv4Header struct {
	Version   uint8
	HeaderLen int
	TotalLen  uint16
	ID        uint16
	Flags     uint8
	FragOff   uint16
	TTL       uint8
	Protocol  layers.IPProtocol
	Checksum  uint16
	Src       netip.Addr
	Dst       netip.Addr
}

// Match is a frame classified as a discovery broadcast.
type Match struct {
	IP      IPv4Header
	SrcPort uint16
	DstPort uint16
	// Payload aliases the frame bytes after the UDP header.
	Payload []byte
}

// Classify reports whether data is an IPv4/UDP frame to a discovery port
// whose payload contains Magic.
func Classify(data []byte) (Match, bool) {
	if len(data) < MinFrameLen {
		return Match{}, false
	}
	if layers.EthernetType(binary.BigEndian.Uint16(data[12:14])) != layers.EthernetTypeIPv4 {
		return Match{}, false
	}
	if layers.IPProtocol(data[ethHeaderLen+9]) != layers.IPProtocolUDP {
		return Match{}, false
	}

	ip := decodeIPv4(data[ethHeaderLen : ethHeaderLen+ipv4MinHeader])
	if ip.HeaderLen < ipv4MinHeader {
		return Match{}, false
	}
	udpOff := ethHeaderLen + ip.HeaderLen
	if len(data) < udpOff+udpHeaderLen {
		return Match{}, false
	}

	m := Match{
		IP:      ip,
		SrcPort: binary.BigEndian.Uint16(data[udpOff : udpOff+2]),
		DstPort: binary.BigEndian.Uint16(data[udpOff+2 : udpOff+4]),
	}
	if !slices.Contains(ports, m.DstPort) {
		return Match{}, false
	}

	m.Payload = data[udpOff+udpHeaderLen:]
	if !bytes.Contains(m.Payload, magic) {
		return Match{}, false
	}
	return m, true
}

func decodeIPv4(b []byte) IPv4Header {
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	return IPv4Header{
		Version:   b[0] >> 4,
		HeaderLen: int(b[0]&0x0f) * 4,
		TotalLen:  binary.BigEndian.Uint16(b[2:4]),
		ID:        binary.BigEndian.Uint16(b[4:6]),
		Flags:     uint8(flagsFrag >> 13),
		FragOff:   flagsFrag & 0x1fff,
		TTL:       b[8],
		Protocol:  layers.IPProtocol(b[9]),
		Checksum:  binary.BigEndian.Uint16(b[10:12]),
		Src:       netip.AddrFrom4([4]byte(b[12:16])),
		Dst:       netip.AddrFrom4([4]byte(b[16:20])),
	}
}
