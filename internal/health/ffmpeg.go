package health

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// tailOffset is how far before the end of the file the last frame is taken.
// Sampling exactly at the end often lands past the final keyframe.
const tailOffset = 0.1

// FFmpegExtractor decodes single frames by shelling out to ffprobe/ffmpeg.
type FFmpegExtractor struct {
	FFmpegPath  string // default "ffmpeg"
	FFprobePath string // default "ffprobe"
	Timeout     time.Duration
}

// NewFFmpegExtractor returns an extractor using the binaries on PATH.
func NewFFmpegExtractor() *FFmpegExtractor {
	return &FFmpegExtractor{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Timeout:     30 * time.Second,
	}
}

// FirstLastFrames decodes the frame at 0.0s and the frame 0.1s before the
// end of the video.
func (e *FFmpegExtractor) FirstLastFrames(path string) (image.Image, image.Image, error) {
	duration, err := e.probeDuration(path)
	if err != nil {
		return nil, nil, err
	}

	first, err := e.frameAt(path, 0.0)
	if err != nil {
		return nil, nil, fmt.Errorf("first frame: %w", err)
	}

	tail := duration - tailOffset
	if tail < 0 {
		tail = 0
	}
	last, err := e.frameAt(path, tail)
	if err != nil {
		return nil, nil, fmt.Errorf("last frame: %w", err)
	}
	return first, last, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (e *FFmpegExtractor) probeDuration(path string) (float64, error) {
	cmd := exec.Command(e.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := e.run(cmd)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

// frameAt decodes the single frame at offset seconds as PNG.
func (e *FFmpegExtractor) frameAt(path string, offset float64) (image.Image, error) {
	cmd := exec.Command(e.FFmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)
	out, err := e.run(cmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame at %.3fs: %w", offset, err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// run executes cmd with the configured timeout and returns stdout.
func (e *FFmpegExtractor) run(cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), nil
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}
