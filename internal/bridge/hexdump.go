package bridge

import (
	"fmt"
	"strings"
)

// HexDump renders data as offset, hex and ASCII columns, 16 bytes per line.
// Bytes outside printable ASCII are shown as '.'.
func HexDump(data []byte) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		chunk := data[off:min(off+16, len(data))]
		if off > 0 {
			sb.WriteByte('\n')
		}

		hex := make([]string, len(chunk))
		ascii := make([]byte, len(chunk))
		for i, c := range chunk {
			hex[i] = fmt.Sprintf("%02x", c)
			if c >= 0x20 && c < 0x7f {
				ascii[i] = c
			} else {
				ascii[i] = '.'
			}
		}
		fmt.Fprintf(&sb, "%04x  %-47s  %s", off, strings.Join(hex, " "), ascii)
	}
	return sb.String()
}
