// Package bridge implements the bambu-bridge run command.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"bambu-bridge/internal/bridge"
	"bambu-bridge/internal/capture"
	"bambu-bridge/internal/forward"
	"bambu-bridge/internal/sysinfo"
	"bambu-bridge/pkg/config"
	"bambu-bridge/pkg/logger"
)

// Process exit codes, following sysexits.h.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUnavailable = 69
	ExitNoPerm      = 77
	ExitConfig      = 78
)

// ErrConfig marks configuration errors.
var ErrConfig = errors.New("configuration error")

// Options carries command-line overrides.
type Options struct {
	ConfigPath string
	Quiet      bool
	Verbose    bool
}

// reportedError marks errors that were already written to the log.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported reports whether err has already been logged by Run.
func Reported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case capture.IsPermissionDenied(err):
		return ExitNoPerm
	case capture.IsInterfaceBind(err):
		return ExitUnavailable
	case errors.Is(err, ErrConfig):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// Run bridges discovery broadcasts until SIGINT or SIGTERM.
func Run(opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	pollTimeout, err := cfg.Capture.ParsePollTimeout()
	if err != nil {
		return fmt.Errorf("%w: parsing poll_timeout: %w", ErrConfig, err)
	}

	verbosity := config.ResolveVerbosity(opts.Quiet, opts.Verbose, cfg.Bridge.LogLevel)
	log := logger.Init(verbosity)

	source, target := cfg.Bridge.SourceIface, cfg.Bridge.TargetIface
	preflight(log, source, target)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capOpts := capture.DefaultOptions()
	capOpts.BufferSize = cfg.Capture.BufferSizeMB * 1024 * 1024
	capOpts.PollTimeout = pollTimeout
	if cfg.Capture.UseKernelFilter() {
		capOpts.FilterPorts = bridge.Ports()
	}

	handle, err := capture.Open(source, capOpts)
	if err != nil {
		if capture.IsPermissionDenied(err) {
			logger.Critical(log).Err(err).Msg("Must run as root (raw socket requires CAP_NET_RAW)")
		} else {
			logger.Critical(log).Err(err).Str("interface", source).Msgf("Cannot bind to interface '%s'", source)
		}
		return &reportedError{err}
	}

	logger.Status(log).
		Str("verbosity", verbosity.String()).
		Bool("kernel_filter", len(capOpts.FilterPorts) > 0).
		Msgf("Bambu bridge started: %s -> %s BROADCAST", source, target)
	logger.Status(log).Msg("Press Ctrl+C to stop")

	return serve(ctx, log, handle, forward.NewBroadcaster(target), source, target)
}

// captureHandle is the bound capture as seen by serve.
type captureHandle interface {
	capture.Source
	Interface() *net.Interface
	Stats() (capture.Stats, error)
}

// serve bridges frames from handle until ctx is cancelled, then closes the
// handle. A nil return means a clean shutdown.
func serve(ctx context.Context, log zerolog.Logger, handle captureHandle, fwd bridge.Forwarder, source, target string) error {
	defer handle.Close()

	bcfg := bridge.Config{Source: source, Target: target}
	if iface := handle.Interface(); iface != nil {
		bcfg.SourceIndex = iface.Index
	}

	b := bridge.New(bcfg, handle, fwd, log)
	runErr := b.Run(ctx)

	if stats, err := handle.Stats(); err == nil {
		log.Debug().
			Uint("packets", stats.Packets).
			Uint("drops", stats.Drops).
			Uint64("matched", b.Count()).
			Msg("Capture statistics")
	}

	if runErr != nil {
		logger.Critical(log).Err(runErr).Str("interface", source).Msg("Capture failed")
		return &reportedError{runErr}
	}
	logger.Status(log).Msg("Shutting down gracefully...")
	return nil
}

// preflight logs the state of both interfaces. Problems are warnings only;
// binding decides whether the bridge can start.
func preflight(log zerolog.Logger, source, target string) {
	host := sysinfo.CollectHost()
	log.Debug().
		Str("hostname", host.Hostname).
		Str("os", host.OSName).
		Str("kernel", host.Kernel).
		Str("arch", host.Arch).
		Msg("Host")

	for _, name := range []string{source, target} {
		info, err := sysinfo.LookupInterface(name)
		if err != nil {
			log.Warn().Err(err).Str("interface", name).Msg("Interface lookup failed")
			continue
		}

		addrs := make([]string, 0, len(info.IPv4))
		for _, p := range info.IPv4 {
			addrs = append(addrs, p.String())
		}
		log.Debug().
			Str("interface", info.Name).
			Int("index", info.Index).
			Int("mtu", info.MTU).
			Str("mac", info.MAC).
			Strs("ipv4", addrs).
			Msg("Interface")

		// Only the target needs an address and broadcast support.
		if name == target {
			for _, p := range info.Problems() {
				log.Warn().Str("interface", name).Msg("Target " + p)
			}
		} else if !info.Up {
			log.Warn().Str("interface", name).Msg("Source interface is down")
		}
	}
}
