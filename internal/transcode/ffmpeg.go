package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// EncodeFunc invokes the external encoder for one output segment. Swapped
// in tests.
type EncodeFunc func(ctx context.Context, input string, startS, durationS float64, bitrate, output string) error

// ffmpegEncode slices one segment out of a WAV and encodes it as Opus in
// an Ogg container: fixed bitrate, VoIP profile, 20 ms frames, maximum
// compression.
func ffmpegEncode(ctx context.Context, input string, startS, durationS float64, bitrate, output string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", input,
		"-ss", formatSeconds(startS),
		"-t", formatSeconds(durationS),
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-vbr", "on",
		"-compression_level", "10",
		"-frame_duration", "20",
		"-application", "voip",
		output,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\n%s", err, lastLines(string(out), 5))
	}
	return nil
}

// probeDuration asks ffprobe for a file's duration in seconds. Used only
// when a manifest entry lacks one.
func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return d, nil
}

// CheckFFmpeg reports whether ffmpeg is on PATH. The health endpoint
// surfaces this.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
