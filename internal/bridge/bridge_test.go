package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"

	"bambu-bridge/internal/capture"
)

type sentPacket struct {
	payload []byte
	port    int
}

type fakeForwarder struct {
	sent []sentPacket
	err  error
}

func (f *fakeForwarder) Forward(_ context.Context, payload []byte, port int) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentPacket{payload: append([]byte(nil), payload...), port: port})
	return nil
}

type readResult struct {
	data []byte
	ci   gopacket.CaptureInfo
	err  error
}

// fakeSource replays results, then reports the handle as closed.
type fakeSource struct {
	results []readResult
	reads   int
	closed  bool
}

func (s *fakeSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.closed || s.reads >= len(s.results) {
		return nil, gopacket.CaptureInfo{}, capture.ErrClosed
	}
	r := s.results[s.reads]
	s.reads++
	return r.data, r.ci, r.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Count   uint64 `json:"count"`
	IP      string `json:"ip"`
	Src     string `json:"src"`
	Error   string `json:"error"`
}

func parseLog(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var lines []logLine
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var l logLine
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			t.Fatalf("bad log line %q: %v", raw, err)
		}
		lines = append(lines, l)
	}
	return lines
}

func countMessages(lines []logLine, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l.Message, substr) {
			n++
		}
	}
	return n
}

func newTestBridge(src capture.Source, fwd Forwarder, buf *bytes.Buffer, level zerolog.Level) *Bridge {
	log := zerolog.New(buf).Level(level)
	return New(Config{Source: "lan1.50", Target: "lan1.10", SourceIndex: 3}, src, fwd, log)
}

func TestHandle_ShortFrameHasNoSideEffects(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.DebugLevel)

	if b.Handle(context.Background(), Frame{Data: make([]byte, 28)}) {
		t.Error("28-byte frame reported as match")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
	if len(fwd.sent) != 0 || b.Count() != 0 || b.LastSeen().IsValid() {
		t.Errorf("unexpected side effects: sent=%d count=%d lastSeen=%s", len(fwd.sent), b.Count(), b.LastSeen())
	}
}

func TestHandle_MagicMarkerForwarded(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.InfoLevel)

	frame := discoveryFrame(t, "10.0.0.5", 40001, 2021, magic)
	if !b.Handle(context.Background(), Frame{Data: frame, IfIndex: 3}) {
		t.Fatal("frame not matched")
	}

	lines := parseLog(t, &buf)
	if got := countMessages(lines, "(re)discovered"); got != 1 {
		t.Errorf("(re)discovered lines: got %d, want 1", got)
	}
	var info *logLine
	for i := range lines {
		if lines[i].Level == "info" {
			info = &lines[i]
		}
	}
	if info == nil {
		t.Fatalf("no info line in %v", lines)
	}
	if info.Count != 1 {
		t.Errorf("info count: got %d, want 1", info.Count)
	}
	if !strings.Contains(info.Message, "10.0.0.5:40001 -> 255.255.255.255:2021 (33 bytes)") {
		t.Errorf("info message: %q", info.Message)
	}

	if len(fwd.sent) != 1 {
		t.Fatalf("sends: got %d, want 1", len(fwd.sent))
	}
	if fwd.sent[0].port != 2021 {
		t.Errorf("port: got %d, want 2021", fwd.sent[0].port)
	}
	if !bytes.Equal(fwd.sent[0].payload, magic) {
		t.Errorf("payload: got %q, want %q", fwd.sent[0].payload, magic)
	}
}

func TestHandle_RediscoveredOncePerAddressChange(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.InfoLevel)
	ctx := context.Background()

	for _, src := range []string{"10.0.0.5", "10.0.0.5"} {
		b.Handle(ctx, Frame{Data: discoveryFrame(t, src, 40001, 2021, notifyPayload())})
	}
	if got := countMessages(parseLog(t, &buf), "(re)discovered"); got != 1 {
		t.Errorf("after duplicates: got %d (re)discovered lines, want 1", got)
	}

	b.Handle(ctx, Frame{Data: discoveryFrame(t, "10.0.0.9", 40001, 1900, notifyPayload())})
	lines := parseLog(t, &buf)
	if got := countMessages(lines, "(re)discovered"); got != 2 {
		t.Errorf("after new address: got %d (re)discovered lines, want 2", got)
	}
	if lines[len(lines)-2].IP != "10.0.0.9" {
		t.Errorf("last (re)discovered ip: got %q", lines[len(lines)-2].IP)
	}
	if b.LastSeen().String() != "10.0.0.9" {
		t.Errorf("LastSeen: got %s", b.LastSeen())
	}
	if b.Count() != 3 {
		t.Errorf("Count: got %d, want 3", b.Count())
	}
}

func TestHandle_ForwardFailureCountsClassification(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{err: errors.New("network is unreachable")}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.InfoLevel)
	ctx := context.Background()

	frame := discoveryFrame(t, "10.0.0.5", 40001, 2021, notifyPayload())
	if !b.Handle(ctx, Frame{Data: frame}) {
		t.Fatal("frame not matched")
	}
	if b.Count() != 1 {
		t.Errorf("count after failed forward: got %d, want 1", b.Count())
	}

	lines := parseLog(t, &buf)
	last := lines[len(lines)-1]
	if last.Level != "error" || last.Src != "10.0.0.5:40001" || last.Error != "network is unreachable" {
		t.Errorf("unexpected error line: %+v", last)
	}

	fwd.err = nil
	if !b.Handle(ctx, Frame{Data: frame}) {
		t.Fatal("next frame not matched")
	}
	if b.Count() != 2 || len(fwd.sent) != 1 {
		t.Errorf("after recovery: count=%d sent=%d, want 2 and 1", b.Count(), len(fwd.sent))
	}
}

func TestHandle_RejectsOtherInterfaces(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.InfoLevel)

	frame := discoveryFrame(t, "10.0.0.5", 40001, 2021, notifyPayload())
	if b.Handle(context.Background(), Frame{Data: frame, IfIndex: 7}) {
		t.Error("frame from interface 7 matched on a bridge bound to 3")
	}
	if len(fwd.sent) != 0 {
		t.Errorf("sends: got %d, want 0", len(fwd.sent))
	}
}

func TestHandle_NonMatchingFramesNeverForwarded(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	b := newTestBridge(&fakeSource{}, fwd, &buf, zerolog.DebugLevel)
	ctx := context.Background()

	frames := [][]byte{
		discoveryFrame(t, "10.0.0.5", 40001, 5353, notifyPayload()),
		discoveryFrame(t, "10.0.0.5", 40001, 1900, []byte("M-SEARCH * HTTP/1.1\r\n\r\n")),
	}
	tcp := discoveryFrame(t, "10.0.0.5", 40001, 2021, notifyPayload())
	tcp[23] = 6
	frames = append(frames, tcp)

	for _, f := range frames {
		if b.Handle(ctx, Frame{Data: f}) {
			t.Errorf("frame matched: % x", f[:42])
		}
	}
	if len(fwd.sent) != 0 || buf.Len() != 0 {
		t.Errorf("expected silence, got sent=%d log=%q", len(fwd.sent), buf.String())
	}
}

func TestHandle_HexDumpAtDebug(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBridge(&fakeSource{}, &fakeForwarder{}, &buf, zerolog.DebugLevel)

	b.Handle(context.Background(), Frame{Data: discoveryFrame(t, "10.0.0.5", 40001, 2021, magic)})

	lines := parseLog(t, &buf)
	if countMessages(lines, "0000  75 72 6e 3a") != 1 {
		t.Errorf("hexdump missing from debug output: %+v", lines)
	}

	buf.Reset()
	b = newTestBridge(&fakeSource{}, &fakeForwarder{}, &buf, zerolog.InfoLevel)
	b.Handle(context.Background(), Frame{Data: discoveryFrame(t, "10.0.0.5", 40001, 2021, magic)})
	if countMessages(parseLog(t, &buf), "0000  ") != 0 {
		t.Error("hexdump emitted at info level")
	}
}

func TestRun_StopsOnClosedCapture(t *testing.T) {
	var buf bytes.Buffer
	fwd := &fakeForwarder{}
	src := &fakeSource{results: []readResult{
		{data: discoveryFrame(t, "10.0.0.5", 40001, 2021, notifyPayload())},
		{err: capture.ErrTimeout},
		{data: make([]byte, 28)},
		{data: discoveryFrame(t, "10.0.0.5", 40002, 1900, notifyPayload())},
	}}
	b := newTestBridge(src, fwd, &buf, zerolog.InfoLevel)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 4 {
		t.Errorf("reads: got %d, want 4", src.reads)
	}
	if len(fwd.sent) != 2 || b.Count() != 2 {
		t.Errorf("sent=%d count=%d, want 2 and 2", len(fwd.sent), b.Count())
	}
}

func TestRun_ReturnsReadErrors(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{results: []readResult{{err: errors.New("network is down")}}}
	b := newTestBridge(src, &fakeForwarder{}, &buf, zerolog.InfoLevel)

	err := b.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "network is down") {
		t.Errorf("Run: got %v, want read error", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{results: []readResult{
		{err: capture.ErrTimeout},
		{err: capture.ErrTimeout},
	}}
	b := newTestBridge(src, &fakeForwarder{}, &buf, zerolog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 0 {
		t.Errorf("reads after cancel: got %d, want 0", src.reads)
	}
}

func TestRun_ReadErrorAfterCancelIsClean(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	src := &cancellingSource{cancel: cancel}
	b := newTestBridge(src, &fakeForwarder{}, &buf, zerolog.InfoLevel)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: got %v, want nil after shutdown", err)
	}
}

// cancellingSource simulates a shutdown racing a blocked read: the context
// is cancelled and the read fails with an ordinary I/O error.
type cancellingSource struct {
	cancel context.CancelFunc
}

func (s *cancellingSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	s.cancel()
	return nil, gopacket.CaptureInfo{}, errors.New("bad file descriptor")
}

func (s *cancellingSource) Close() error { return nil }
