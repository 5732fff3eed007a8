package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logx "audiocast/pkg/logx"
)

// Transcoder converts one audio file into the target wire format.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, destPath string) error
}

// FFmpeg transcodes to OGG/Opus by exec'ing ffmpeg.
type FFmpeg struct {
	path    string
	bitrate string
	timeout time.Duration
	log     logx.Logger
}

func NewFFmpeg(path, bitrate string, timeout time.Duration, log logx.Logger) *FFmpeg {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	if strings.TrimSpace(bitrate) == "" {
		bitrate = "128k"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &FFmpeg{path: path, bitrate: bitrate, timeout: timeout, log: log}
}

func (f *FFmpeg) Transcode(ctx context.Context, sourcePath, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{
		"-i", sourcePath,
		"-c:a", "libopus",
		"-b:a", f.bitrate,
		"-y",
		destPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	f.log.Debug("transcoding", logx.String("src", sourcePath), logx.String("dst", destPath))
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s: %w", f.timeout, ctx.Err())
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 400))
	}
	f.log.Info("transcoded",
		logx.String("src", sourcePath),
		logx.Duration("took", time.Since(start)))
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
