package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const DefaultMaxFrameDimension = 1280

// ProgressFunc receives extraction progress as a percentage in [0,100].
type ProgressFunc func(percent float64)

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return stdout.Bytes(), nil
}

type FrameExtractor struct {
	ffmpegPath   string
	ffprobePath  string
	tempDir      string
	maxDimension int
	runner       commandRunner
	logger       *zap.Logger
}

func NewFrameExtractor(tempDir string, maxDimension int, logger *zap.Logger) (*FrameExtractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "deepcheck-frames")
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxFrameDimension
	}

	logger.Info("frame extractor ready",
		zap.String("ffmpeg", ffmpegPath),
		zap.String("ffprobe", ffprobePath),
		zap.String("temp_dir", tempDir),
	)

	return &FrameExtractor{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		tempDir:      tempDir,
		maxDimension: maxDimension,
		runner:       execRunner{},
		logger:       logger,
	}, nil
}

// VideoSource is a decodable video spooled to a private temp directory.
// Close releases it; the extractor never keeps a reference.
type VideoSource struct {
	Name     string
	Path     string
	Duration float64
	Width    int
	Height   int

	dir  string
	once sync.Once
}

func (v *VideoSource) Close() error {
	var err error
	v.once.Do(func() {
		if v.dir != "" {
			err = os.RemoveAll(v.dir)
		}
	})
	return err
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// OpenVideo spools r to disk and probes it. Any failure to decode the
// container yields an *InvalidVideoError and leaves nothing behind.
func (fe *FrameExtractor) OpenVideo(ctx context.Context, r io.Reader, name string) (*VideoSource, error) {
	dir, err := os.MkdirTemp(fe.tempDir, "video-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create video workdir: %w", err)
	}

	src := &VideoSource{Name: name, dir: dir}
	src.Path = filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(name)))

	if err := spool(src.Path, r); err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to spool video: %w", err)
	}

	if err := fe.probe(ctx, src); err != nil {
		src.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &InvalidVideoError{Name: name, Err: err}
	}

	fe.logger.Debug("video opened",
		zap.String("name", name),
		zap.Float64("duration", src.Duration),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
	)
	return src, nil
}

func spool(path string, r io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (fe *FrameExtractor) probe(ctx context.Context, src *VideoSource) error {
	out, err := fe.runner.Run(ctx, fe.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		src.Path,
	)
	if err != nil {
		return err
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return fmt.Errorf("no video stream")
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	if duration <= 0 {
		return fmt.Errorf("invalid video duration: %f", duration)
	}

	src.Duration = duration
	src.Width = probe.Streams[0].Width
	src.Height = probe.Streams[0].Height
	if src.Width <= 0 || src.Height <= 0 {
		return fmt.Errorf("invalid video dimensions %dx%d", src.Width, src.Height)
	}
	return nil
}

// ExtractFrames captures maxFrames stills at evenly spaced interior
// timestamps. A failed capture is logged and skipped; only when every
// capture fails is a *NoFramesExtractedError returned.
func (fe *FrameExtractor) ExtractFrames(ctx context.Context, src *VideoSource, maxFrames int, quality float64, progress ProgressFunc) ([]Frame, error) {
	if maxFrames <= 0 {
		return nil, fmt.Errorf("maxFrames must be positive, got %d", maxFrames)
	}
	if quality <= 0 || quality > 1 {
		return nil, fmt.Errorf("quality must be in (0,1], got %v", quality)
	}

	width, height := capDimensions(src.Width, src.Height, fe.maxDimension)
	jpegQuality := int(quality * 100)
	if jpegQuality < 1 {
		jpegQuality = 1
	}

	timestamps := sampleTimestamps(src.Duration, maxFrames)
	frames := make([]Frame, 0, len(timestamps))

	var lastErr error
	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := fe.captureFrame(ctx, src.Path, ts, width, height, jpegQuality)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			fe.logger.Warn("frame capture failed",
				zap.Int("sample", i+1),
				zap.Float64("timestamp", ts),
				zap.Error(err),
			)
		} else {
			frames = append(frames, Frame{
				Index:     len(frames),
				Timestamp: ts,
				Image:     data,
				Width:     width,
				Height:    height,
			})
		}

		if progress != nil {
			progress(float64(i+1) / float64(len(timestamps)) * 100)
		}
	}

	if len(frames) == 0 {
		return nil, &NoFramesExtractedError{Attempted: len(timestamps), LastErr: lastErr}
	}

	fe.logger.Info("frames extracted",
		zap.Int("extracted", len(frames)),
		zap.Int("requested", maxFrames),
		zap.Float64("video_duration", src.Duration),
	)
	return frames, nil
}

func (fe *FrameExtractor) captureFrame(ctx context.Context, videoPath string, timestamp float64, width, height, quality int) ([]byte, error) {
	out, err := fe.runner.Run(ctx, fe.ffmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(timestamp, 'f', -1, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract frame at %.3f: %w", timestamp, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no image data at %.3f", timestamp)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
