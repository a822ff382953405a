// Package capture owns the encoder child process for one tuner. It turns a
// virtual display into a rolling HLS window on disk plus a continuous
// MPEG-TS byte fan-out, and watches the display for black frames.
package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/asticode/go-astits"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// stopGrace is how long Stop waits after SIGTERM before SIGKILL.
const stopGrace = 5 * time.Second

// Config describes one pipeline instance.
type Config struct {
	FFmpegPath       string
	Width            int
	Height           int
	Framerate        int
	VideoBitrate     string
	AudioBitrate     string
	AudioDevice      string // PulseAudio source; empty = synthesized silence
	SegmentTime      int
	ListSize         int
	OutputDir        string
	WatchdogInterval time.Duration
	WatchdogSamples  int
}

// Stats is the pipeline's liveness snapshot.
type Stats struct {
	Running        bool          `json:"running"`
	Placeholder    bool          `json:"placeholder"`
	Uptime         time.Duration `json:"uptime"`
	BytesOut       uint64        `json:"bytes_out"`
	ClientCount    int           `json:"client_count"`
	LastSegmentAge time.Duration `json:"last_segment_age"`
	SegmentCount   int           `json:"segment_count"`
	TSPackets      uint64        `json:"ts_packets"`
	LastPCRAge     time.Duration `json:"last_pcr_age"`
	EncoderPID     int           `json:"encoder_pid,omitempty"`
	EncoderCPU     float64       `json:"encoder_cpu_percent,omitempty"`
	EncoderRSS     uint64        `json:"encoder_rss_bytes,omitempty"`
}

// Pipeline owns exactly one encoder process while running.
type Pipeline struct {
	cfg Config
	log *slog.Logger

	// onExit is invoked when the encoder dies without Stop being called.
	onExit func(error)

	mu          sync.Mutex
	cmd         *exec.Cmd
	running     bool
	stopping    bool
	placeholder bool
	startedAt   time.Time

	bytesOut  atomic.Uint64
	tsPackets atomic.Uint64
	lastPCR   atomic.Int64 // unix nanos of the last PCR-bearing packet

	sinks    *sinkSet
	watchdog *Watchdog
	wg       sync.WaitGroup
}

// New creates a pipeline. onExit may be nil.
func New(cfg Config, log *slog.Logger, onExit func(error)) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		log:    log,
		onExit: onExit,
		sinks:  newSinkSet(),
	}
}

// Start captures the virtual display into the segmenter and the fan-out.
// Any previous output files are unlinked first.
func (p *Pipeline) Start(ctx context.Context, displayID int, onBlackScreen func()) error {
	b := NewCommandBuilder(p.cfg.FFmpegPath).
		X11GrabInput(displayID, p.cfg.Width, p.cfg.Height, p.cfg.Framerate)
	if p.cfg.AudioDevice != "" {
		b.PulseInput(p.cfg.AudioDevice)
	} else {
		b.NullAudioInput()
	}
	p.addOutputs(b)

	if err := p.startProcess(b, false); err != nil {
		return err
	}

	if onBlackScreen != nil {
		sampler := GrabSampler(p.cfg.FFmpegPath, displayID, p.cfg.Width, p.cfg.Height)
		p.startWatchdog(sampler, onBlackScreen)
	}
	return nil
}

// StartPlaceholder synthesizes a still frame carrying message and streams
// it with the identical output contract. The watchdog is not armed: a
// placeholder is intentionally static.
func (p *Pipeline) StartPlaceholder(ctx context.Context, message string) error {
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	framePath, err := writePlaceholderFrame(p.cfg.OutputDir, message, p.cfg.Width, p.cfg.Height)
	if err != nil {
		return err
	}

	b := NewCommandBuilder(p.cfg.FFmpegPath).
		StillImageInput(framePath, 5).
		NullAudioInput()
	p.addOutputs(b)

	return p.startProcess(b, true)
}

func (p *Pipeline) addOutputs(b *CommandBuilder) {
	b.H264Output(p.cfg.VideoBitrate, p.cfg.Framerate, p.cfg.SegmentTime).
		AACOutput(p.cfg.AudioBitrate).
		HLSTee(p.PlaylistPath(), p.segmentPattern(), p.cfg.SegmentTime, p.cfg.ListSize).
		MpegtsPipeTee()
}

func (p *Pipeline) segmentPattern() string {
	return p.cfg.OutputDir + "/seg%05d.ts"
}

func (p *Pipeline) startProcess(b *CommandBuilder, placeholder bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("capture already running")
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := p.clearOutputs(); err != nil {
		return err
	}

	cmd := exec.Command(b.Binary(), b.Build()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdout: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}

	p.cmd = cmd
	p.running = true
	p.stopping = false
	p.placeholder = placeholder
	p.startedAt = time.Now()
	p.bytesOut.Store(0)
	p.tsPackets.Store(0)
	p.lastPCR.Store(0)

	p.log.Info("encoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Bool("placeholder", placeholder),
		slog.String("output_dir", p.cfg.OutputDir),
	)

	p.wg.Add(2)
	go p.ingest(stdout)
	go p.reapProcess(cmd)

	return nil
}

// reapProcess waits for the encoder and reports unexpected death.
func (p *Pipeline) reapProcess(cmd *exec.Cmd) {
	defer p.wg.Done()
	err := cmd.Wait()

	p.mu.Lock()
	expected := p.stopping
	if p.cmd == cmd {
		p.running = false
	}
	p.mu.Unlock()

	if expected {
		return
	}
	if err == nil {
		err = fmt.Errorf("encoder exited")
	}
	p.log.Error("encoder died", slog.String("error", err.Error()))
	if p.onExit != nil {
		p.onExit(err)
	}
}

// ingest reads the continuous TS output, fans it out to sinks, and feeds a
// side channel that accounts packets and PCR liveness.
func (p *Pipeline) ingest(r io.Reader) {
	defer p.wg.Done()

	pr, pw := io.Pipe()
	inspectDone := make(chan struct{})
	go func() {
		defer close(inspectDone)
		p.inspectTS(pr)
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.bytesOut.Add(uint64(n))
			p.sinks.broadcast(buf[:n])
			// The inspector drains until the pipe closes, so this write
			// cannot wedge the fan-out.
			_, _ = pw.Write(buf[:n])
		}
		if err != nil {
			pw.CloseWithError(err)
			<-inspectDone
			return
		}
	}
}

// inspectTS validates transport-stream packets and tracks PCR liveness.
// On a demux error it keeps draining so the ingest loop never stalls.
func (p *Pipeline) inspectTS(r io.Reader) {
	dmx := astits.NewDemuxer(context.Background(), r)
	for {
		pkt, err := dmx.NextPacket()
		if err != nil {
			_, _ = io.Copy(io.Discard, r)
			return
		}
		p.tsPackets.Add(1)
		if pkt.AdaptationField != nil && pkt.AdaptationField.HasPCR {
			p.lastPCR.Store(time.Now().UnixNano())
		}
	}
}

// startWatchdog arms stall detection for the life of the capture session.
// The watchdog runs on the pipeline's own lifecycle, not the context of
// whichever request started the capture: a disconnecting client must not
// take stall detection down with it. Stop is the only thing that ends it.
func (p *Pipeline) startWatchdog(sampler Sampler, onBlack func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchdog = NewWatchdog(p.cfg.WatchdogInterval, p.cfg.WatchdogSamples, sampler, onBlack, p.log)
	p.watchdog.Start(context.Background())
}

// Stop terminates the encoder and clears all client sinks. Idempotent.
// The encoder gets SIGTERM and stopGrace to flush, then SIGKILL.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.watchdog != nil {
		wd := p.watchdog
		p.watchdog = nil
		p.mu.Unlock()
		wd.Stop()
		p.mu.Lock()
	}
	cmd := p.cmd
	wasRunning := p.running
	p.stopping = true
	p.cmd = nil
	p.running = false
	p.mu.Unlock()

	if wasRunning && cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		_ = cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopGrace):
			p.log.Warn("encoder ignored SIGTERM, killing", slog.Int("pid", pid))
			_ = cmd.Process.Kill()
			<-done
		}
		p.log.Info("encoder stopped", slog.Int("pid", pid))
	} else {
		p.wg.Wait()
	}

	p.sinks.closeAll()
	return nil
}

// Running reports whether the encoder process is alive.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Placeholder reports whether the current session is a placeholder run.
func (p *Pipeline) Placeholder() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placeholder
}

// AddClient attaches a byte sink to the live fan-out.
func (p *Pipeline) AddClient(s *Sink) {
	p.sinks.add(s)
}

// RemoveClient detaches and closes a sink.
func (p *Pipeline) RemoveClient(id uuid.UUID) {
	p.sinks.remove(id)
}

// ClientCount returns the number of attached sinks.
func (p *Pipeline) ClientCount() int {
	return p.sinks.count()
}

// BlackScreenStreak returns the watchdog's current dark-sample streak.
func (p *Pipeline) BlackScreenStreak() int {
	p.mu.Lock()
	wd := p.watchdog
	p.mu.Unlock()
	if wd == nil {
		return 0
	}
	return wd.Streak()
}

// Stats returns the liveness snapshot.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	running := p.running
	placeholder := p.placeholder
	startedAt := p.startedAt
	cmd := p.cmd
	p.mu.Unlock()

	s := Stats{
		Running:     running,
		Placeholder: placeholder,
		BytesOut:    p.bytesOut.Load(),
		TSPackets:   p.tsPackets.Load(),
		ClientCount: p.sinks.count(),
	}
	if running {
		s.Uptime = time.Since(startedAt)
	}
	if pcr := p.lastPCR.Load(); pcr > 0 {
		s.LastPCRAge = time.Since(time.Unix(0, pcr))
	}
	s.LastSegmentAge, s.SegmentCount = p.lastSegmentInfo()

	if running && cmd != nil && cmd.Process != nil {
		s.EncoderPID = cmd.Process.Pid
		if proc, err := process.NewProcess(int32(s.EncoderPID)); err == nil {
			if cpu, err := proc.CPUPercent(); err == nil {
				s.EncoderCPU = cpu
			}
			if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
				s.EncoderRSS = mi.RSS
			}
		}
	}
	return s
}

// OutputDir returns the pipeline's exclusive output directory.
func (p *Pipeline) OutputDir() string { return p.cfg.OutputDir }
