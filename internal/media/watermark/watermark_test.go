package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestBuildArgsIsDeterministic(t *testing.T) {
	cfg := DefaultConfig("/assets/wm.png")
	a := BuildArgs(cfg, "in.mp4", "out.mp4")
	b := BuildArgs(cfg, "in.mp4", "out.mp4")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("args differ between calls")
	}
	joined := strings.Join(a, " ")
	for _, want := range []string{
		"-i in.mp4",
		"-i /assets/wm.png",
		"colorchannelmixer=aa=0.60",
		"overlay=x=main_w-overlay_w-24:y=main_h-overlay_h-24",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if a[len(a)-1] != "out.mp4" {
		t.Fatalf("destination must be last, got %q", a[len(a)-1])
	}
}

func TestOverlayPositions(t *testing.T) {
	tests := map[Position]string{
		TopLeft:    "x=10:y=10",
		TopRight:   "x=main_w-overlay_w-10:y=10",
		BottomLeft: "x=10:y=main_h-overlay_h-10",
		Center:     "x=(main_w-overlay_w)/2:y=(main_h-overlay_h)/2",
	}
	for pos, want := range tests {
		cfg := Config{Asset: "a.png", Position: pos, Margin: 10, Opacity: 1}
		if got := cfg.overlayExpr(); got != want {
			t.Fatalf("%s: got %q want %q", pos, got, want)
		}
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.toml")
	content := "position = \"top-left\"\nopacity = 0.35\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path, DefaultConfig("wm.png"))
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Position != TopLeft || cfg.Opacity != 0.35 || cfg.Margin != 24 || cfg.Asset != "wm.png" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.toml")
	if err := os.WriteFile(path, []byte("position = \"middle\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path, DefaultConfig("wm.png")); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyRunsFFmpeg(t *testing.T) {
	asset := filepath.Join(t.TempDir(), "wm.png")
	if err := os.WriteFile(asset, []byte("png"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	var gotName string
	var gotArgs []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, nil
	}
	ff, err := NewFFmpeg("/usr/bin/ffmpeg", DefaultConfig(asset), run)
	if err != nil {
		t.Fatalf("NewFFmpeg error: %v", err)
	}
	if err := ff.Apply(context.Background(), "src.mp4", "dst.mp4"); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if gotName != "/usr/bin/ffmpeg" || gotArgs[len(gotArgs)-1] != "dst.mp4" {
		t.Fatalf("unexpected invocation: %s %v", gotName, gotArgs)
	}
}

func TestApplyWrapsFailure(t *testing.T) {
	asset := filepath.Join(t.TempDir(), "wm.png")
	_ = os.WriteFile(asset, []byte("png"), 0o644)
	run := func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Invalid data found"), errors.New("exit status 1")
	}
	ff, _ := NewFFmpeg("", DefaultConfig(asset), run)
	err := ff.Apply(context.Background(), "src.mp4", "dst.mp4")
	if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected wrapped ffmpeg output, got %v", err)
	}
}
