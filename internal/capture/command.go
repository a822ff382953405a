package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandBuilder assembles encoder argument lists with a fluent API.
type CommandBuilder struct {
	binary     string
	logLevel   string
	inputArgs  []string
	outputArgs []string
	teeTargets []string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(binary string) *CommandBuilder {
	return &CommandBuilder{
		binary:   binary,
		logLevel: "error",
	}
}

// LogLevel sets the encoder log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// X11GrabInput captures a virtual display as the video input.
func (b *CommandBuilder) X11GrabInput(display, width, height, framerate int) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "x11grab",
		"-framerate", strconv.Itoa(framerate),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", fmt.Sprintf(":%d", display),
	)
	return b
}

// StillImageInput loops a still frame as the video input.
func (b *CommandBuilder) StillImageInput(path string, framerate int) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-loop", "1",
		"-framerate", strconv.Itoa(framerate),
		"-re",
		"-i", path,
	)
	return b
}

// PulseInput captures a PulseAudio source as the audio input.
func (b *CommandBuilder) PulseInput(device string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-f", "pulse", "-i", device)
	return b
}

// NullAudioInput synthesizes silence as the audio input.
func (b *CommandBuilder) NullAudioInput() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
	)
	return b
}

// H264Output encodes video with libx264 tuned for live capture. The GOP is
// aligned to the segment duration so every segment starts on a keyframe.
func (b *CommandBuilder) H264Output(bitrate string, framerate, segmentTime int) *CommandBuilder {
	gop := framerate * segmentTime
	b.outputArgs = append(b.outputArgs,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-b:v", bitrate,
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-flags", "+global_header",
	)
	return b
}

// AACOutput encodes audio with the native AAC encoder.
func (b *CommandBuilder) AACOutput(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", "aac", "-b:a", bitrate, "-ac", "2")
	return b
}

// HLSTee adds a rolling-window HLS target to the tee output.
func (b *CommandBuilder) HLSTee(playlistPath, segmentPattern string, segmentTime, listSize int) *CommandBuilder {
	opts := strings.Join([]string{
		"f=hls",
		"hls_time=" + strconv.Itoa(segmentTime),
		"hls_list_size=" + strconv.Itoa(listSize),
		"hls_flags=delete_segments",
		"hls_segment_filename=" + teeEscape(segmentPattern),
	}, ":")
	b.teeTargets = append(b.teeTargets, "["+opts+"]"+teeEscape(playlistPath))
	return b
}

// MpegtsPipeTee adds a continuous transport-stream target on stdout.
func (b *CommandBuilder) MpegtsPipeTee() *CommandBuilder {
	b.teeTargets = append(b.teeTargets, "[f=mpegts]pipe:1")
	return b
}

// Build returns the final argument list. The tee muxer lets a single encode
// feed both the segmenter and the byte fan-out.
func (b *CommandBuilder) Build() []string {
	args := []string{"-hide_banner", "-loglevel", b.logLevel, "-y"}
	args = append(args, b.inputArgs...)
	args = append(args, b.outputArgs...)
	if len(b.teeTargets) > 0 {
		args = append(args, "-f", "tee", strings.Join(b.teeTargets, "|"))
	}
	return args
}

// Binary returns the encoder binary path.
func (b *CommandBuilder) Binary() string { return b.binary }

// teeEscape escapes characters the tee muxer treats as separators.
func teeEscape(s string) string {
	r := strings.NewReplacer(":", "\\:", "|", "\\|", "[", "\\[", "]", "\\]")
	return r.Replace(s)
}
