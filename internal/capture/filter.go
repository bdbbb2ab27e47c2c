package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

const (
	ethHeaderLen = 14
	acceptLen    = 0x40000
)

// discoveryProgram accepts IPv4/UDP frames whose destination port is one of
// ports. The UDP offset honours the IPv4 header length.
func discoveryProgram(ports []uint16) []bpf.Instruction {
	n := len(ports)
	reject := 6 + n

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(layers.EthernetTypeIPv4), SkipTrue: uint8(reject - 2)},
		bpf.LoadAbsolute{Off: ethHeaderLen + 9, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(layers.IPProtocolUDP), SkipTrue: uint8(reject - 4)},
		bpf.LoadMemShift{Off: ethHeaderLen},
		bpf.LoadIndirect{Off: ethHeaderLen + 2, Size: 2},
	}
	for k, port := range ports {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: uint8(n - k)})
	}
	return append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: acceptLen},
	)
}

// DiscoveryFilter assembles the kernel prefilter for the given UDP ports.
func DiscoveryFilter(ports []uint16) ([]bpf.RawInstruction, error) {
	if len(ports) == 0 || len(ports) > 32 {
		return nil, fmt.Errorf("filter needs between 1 and 32 ports, got %d", len(ports))
	}
	raw, err := bpf.Assemble(discoveryProgram(ports))
	if err != nil {
		return nil, fmt.Errorf("assembling BPF filter: %w", err)
	}
	return raw, nil
}
