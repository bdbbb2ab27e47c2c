// Package bridge captures Bambu Lab discovery broadcasts on one interface and
// re-broadcasts their payload on another.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"

	"bambu-bridge/internal/capture"
	"bambu-bridge/internal/forward"
	"bambu-bridge/pkg/logger"
)

// Forwarder re-emits a payload on the target segment.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte, port int) error
}

// Config names the interface pair. SourceIndex, when non-zero, rejects
// frames the capture reports as arriving on any other interface.
type Config struct {
	Source      string
	Target      string
	SourceIndex int
}

// Bridge runs the capture, classify and forward loop. It is not safe for
// concurrent use; all state is owned by the goroutine calling Run.
type Bridge struct {
	cfg     Config
	capture capture.Source
	fwd     Forwarder
	log     zerolog.Logger

	lastSeen netip.Addr
	count    uint64
}

// New creates a Bridge reading from src and forwarding through fwd.
func New(cfg Config, src capture.Source, fwd Forwarder, log zerolog.Logger) *Bridge {
	return &Bridge{
		cfg:     cfg,
		capture: src,
		fwd:     fwd,
		log:     log,
	}
}

// Count returns the number of frames classified as discovery traffic.
// Frames whose forward failed are included.
func (b *Bridge) Count() uint64 {
	return b.count
}

// LastSeen returns the most recent distinct printer address, or the zero
// Addr before the first match.
func (b *Bridge) LastSeen() netip.Addr {
	return b.lastSeen
}

// Run reads frames until ctx is cancelled or the capture is closed, both of
// which return nil. Any other read error is returned.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		data, ci, err := b.capture.ReadPacket()
		switch {
		case err == nil:
		case errors.Is(err, capture.ErrTimeout):
			continue
		case errors.Is(err, capture.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reading from %s: %w", b.cfg.Source, err)
		}

		b.Handle(ctx, Frame{Data: data, IfIndex: ci.InterfaceIndex})
	}
}

// Handle classifies one frame and forwards it when it matches. It reports
// whether the frame was discovery traffic.
func (b *Bridge) Handle(ctx context.Context, f Frame) bool {
	if b.cfg.SourceIndex != 0 && f.IfIndex != 0 && f.IfIndex != b.cfg.SourceIndex {
		return false
	}

	m, ok := Classify(f.Data)
	if !ok {
		return false
	}

	if m.IP.Src != b.lastSeen {
		logger.Status(b.log).Str("ip", m.IP.Src.String()).Msg("Bambu printer (re)discovered")
		b.lastSeen = m.IP.Src
	}

	b.count++
	b.log.Info().
		Uint64("count", b.count).
		Int("bytes", len(m.Payload)).
		Msgf("[%5d] %s:%d -> %s:%d (%d bytes)", b.count, m.IP.Src, m.SrcPort, forward.BroadcastAddr, m.DstPort, len(m.Payload))

	if e := b.log.Debug(); e.Enabled() {
		e.Msg("\n" + HexDump(m.Payload))
	}

	if err := b.fwd.Forward(ctx, m.Payload, int(m.DstPort)); err != nil {
		b.log.Error().
			Err(err).
			Str("src", fmt.Sprintf("%s:%d", m.IP.Src, m.SrcPort)).
			Str("target", b.cfg.Target).
			Msg("Failed to forward packet")
	}
	return true
}
