package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultBinary       = "ffmpeg"
	DefaultAudioBitrate = "192k"

	audioCodec    = "libmp3lame"
	videoCodec    = "libx264"
	videoPreset   = "veryfast"
	videoCRF      = "23"
	aacCodec      = "aac"
	outputTailLen = 512
)

type Config struct {
	Binary       string
	AudioBitrate string
}

var DefaultConfig = Config{
	Binary:       DefaultBinary,
	AudioBitrate: DefaultAudioBitrate,
}

type Runner struct {
	config Config
	log    *zap.SugaredLogger
}

func New(config Config) *Runner {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.AudioBitrate == "" {
		config.AudioBitrate = DefaultAudioBitrate
	}
	return &Runner{
		config: config,
		log:    zap.S().Named("ffmpeg"),
	}
}

// MuxArgs combines a video-only and an audio-only stream into an mp4 without re-encoding.
func MuxArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4", outPath,
	}
}

// ScaleArgs re-encodes to the given height, keeping the aspect ratio with an even width.
func ScaleArgs(inPath, outPath string, height int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inPath,
		"-vf", "scale=-2:" + strconv.Itoa(height),
		"-c:v", videoCodec, "-preset", videoPreset, "-crf", videoCRF,
		"-c:a", aacCodec,
		"-movflags", "+faststart",
		"-f", "mp4", outPath,
	}
}

// AudioArgs extracts the audio track as mp3 at a constant bitrate.
func AudioArgs(inPath, outPath, bitrate string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inPath,
		"-vn",
		"-c:a", audioCodec, "-b:a", bitrate,
		"-f", "mp3", outPath,
	}
}

func (r *Runner) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	return r.run(ctx, MuxArgs(videoPath, audioPath, outPath))
}

func (r *Runner) ScaleVideo(ctx context.Context, inPath, outPath string, height int) error {
	if height <= 0 {
		return fmt.Errorf("invalid target height %d", height)
	}
	return r.run(ctx, ScaleArgs(inPath, outPath, height))
}

func (r *Runner) ExtractAudio(ctx context.Context, inPath, outPath string) error {
	return r.run(ctx, AudioArgs(inPath, outPath, r.config.AudioBitrate))
}

func (r *Runner) run(ctx context.Context, args []string) error {
	r.log.Debugw("running ffmpeg", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(output.String()))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTailLen {
		return "..." + s[len(s)-outputTailLen:]
	}
	return s
}
