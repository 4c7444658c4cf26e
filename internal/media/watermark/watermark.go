// Package watermark stamps the free-tier overlay onto rendered videos.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Position names the corner (or center) the overlay is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	Center      Position = "center"
)

// Config is the fixed placement of the overlay.
type Config struct {
	Asset    string   `toml:"asset"`
	Position Position `toml:"position"`
	Margin   int      `toml:"margin"`
	Opacity  float64  `toml:"opacity"`
}

// DefaultConfig anchors asset to the bottom-right corner.
func DefaultConfig(asset string) Config {
	return Config{
		Asset:    asset,
		Position: BottomRight,
		Margin:   24,
		Opacity:  0.6,
	}
}

// LoadConfig overlays the TOML file at path onto base. An empty path returns base.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("watermark: decode %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks placement values.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Asset) == "" {
		return errors.New("watermark: asset is required")
	}
	switch c.Position {
	case TopLeft, TopRight, BottomLeft, BottomRight, Center:
	default:
		return fmt.Errorf("watermark: unknown position %q", c.Position)
	}
	if c.Margin < 0 {
		return errors.New("watermark: margin must not be negative")
	}
	if c.Opacity <= 0 || c.Opacity > 1 {
		return errors.New("watermark: opacity must be in (0, 1]")
	}
	return nil
}

func (c Config) overlayExpr() string {
	m := strconv.Itoa(c.Margin)
	switch c.Position {
	case TopLeft:
		return "x=" + m + ":y=" + m
	case TopRight:
		return "x=main_w-overlay_w-" + m + ":y=" + m
	case BottomLeft:
		return "x=" + m + ":y=main_h-overlay_h-" + m
	case Center:
		return "x=(main_w-overlay_w)/2:y=(main_h-overlay_h)/2"
	default:
		return "x=main_w-overlay_w-" + m + ":y=main_h-overlay_h-" + m
	}
}

// BuildArgs returns the ffmpeg arguments that overlay cfg.Asset onto src and
// write dst. Audio is copied when present.
func BuildArgs(cfg Config, src, dst string) []string {
	filter := fmt.Sprintf("[1:v]format=rgba,colorchannelmixer=aa=%s[wm];[0:v][wm]overlay=%s:format=auto[out]",
		strconv.FormatFloat(cfg.Opacity, 'f', 2, 64), cfg.overlayExpr())
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-i", cfg.Asset,
		"-filter_complex", filter,
		"-map", "[out]",
		"-map", "0:a?",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "20",
		"-c:a", "copy",
		"-movflags", "+faststart",
		dst,
	}
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg applies the overlay by shelling out to ffmpeg.
type FFmpeg struct {
	bin string
	cfg Config
	run Runner
}

// NewFFmpeg validates cfg and returns an FFmpeg watermarker. A nil run uses os/exec.
func NewFFmpeg(bin string, cfg Config, run Runner) (*FFmpeg, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	if run == nil {
		run = execRunner
	}
	return &FFmpeg{bin: bin, cfg: cfg, run: run}, nil
}

// Apply writes the watermarked copy of src to dst.
func (f *FFmpeg) Apply(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(f.cfg.Asset); err != nil {
		return fmt.Errorf("watermark: asset: %w", err)
	}
	output, err := f.run(ctx, f.bin, BuildArgs(f.cfg, src, dst)...)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", f.bin, err, strings.TrimSpace(string(output)))
	}
	return nil
}
