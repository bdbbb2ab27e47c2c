// Package sysinfo inspects the host and the bridged interfaces at startup.
package sysinfo

import (
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// HostInfo identifies the machine running the bridge.
type HostInfo struct {
	Hostname string
	OSName   string
	Kernel   string
	Arch     string
}

// InterfaceInfo describes one network interface.
type InterfaceInfo struct {
	Name      string
	Index     int
	MTU       int
	MAC       string
	Up        bool
	Broadcast bool
	IPv4      []netip.Prefix
}

// Problems lists conditions that keep broadcasts from leaving or reaching
// the interface. An empty result means the interface looks usable.
func (i *InterfaceInfo) Problems() []string {
	var problems []string
	if !i.Up {
		problems = append(problems, "interface is down")
	}
	if !i.Broadcast {
		problems = append(problems, "interface does not support broadcast")
	}
	if len(i.IPv4) == 0 {
		problems = append(problems, "interface has no IPv4 address")
	}
	return problems
}

// CollectHost gathers hostname, OS and kernel information.
func CollectHost() HostInfo {
	hostname, _ := os.Hostname()
	osName, kernel := getOSInfo()
	return HostInfo{
		Hostname: hostname,
		OSName:   osName,
		Kernel:   kernel,
		Arch:     runtime.GOARCH,
	}
}

// LookupInterface returns the named interface.
func LookupInterface(name string) (*InterfaceInfo, error) {
	stats, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	for _, st := range stats {
		if st.Name == name {
			info := fromStat(st)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("interface %s not found", name)
}

func fromStat(st psnet.InterfaceStat) InterfaceInfo {
	info := InterfaceInfo{
		Name:      st.Name,
		Index:     st.Index,
		MTU:       st.MTU,
		MAC:       st.HardwareAddr,
		Up:        slices.Contains(st.Flags, "up"),
		Broadcast: slices.Contains(st.Flags, "broadcast"),
	}
	for _, a := range st.Addrs {
		p, err := netip.ParsePrefix(a.Addr)
		if err != nil || !p.Addr().Is4() {
			continue
		}
		info.IPv4 = append(info.IPv4, p)
	}
	return info
}

// getOSInfo returns the platform name and kernel version, falling back to
// GOOS when gopsutil cannot read them.
func getOSInfo() (string, string) {
	info, err := host.Info()
	if err != nil {
		return runtime.GOOS, ""
	}
	name := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if name == "" {
		name = runtime.GOOS
	}
	return name, info.KernelVersion
}
