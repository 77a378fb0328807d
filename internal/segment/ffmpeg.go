package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// FFmpeg probes and cuts audio with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f FFmpeg) bin(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}

// Duration returns the container duration reported by ffprobe.
func (f FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.bin(f.FFprobePath, "ffprobe"),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %v: %s", err, stderr.String())
	}
	return parseProbe(out.Bytes())
}

func parseProbe(raw []byte) (time.Duration, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Cut writes [start, start+length) of src to dst as 16 kHz mono wav. It
// refuses to overwrite an existing dst.
func (f FFmpeg) Cut(ctx context.Context, src, dst string, start, length time.Duration) error {
	cmd := exec.CommandContext(ctx, f.bin(f.FFmpegPath, "ffmpeg"),
		"-n",
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", start.Seconds()),
		"-t", fmt.Sprintf("%.3f", length.Seconds()),
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg cut failed: %v: %s", err, stderr.String())
	}
	return nil
}
