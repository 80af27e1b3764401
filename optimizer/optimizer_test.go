package optimizer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"sitebuild/common"
)

func newTestOptimizer() *Optimizer {
	logger, _ := test.NewNullLogger()
	return NewOptimizer(logrus.NewEntry(logger))
}

// fakePNG returns n bytes that classify as PNG
func fakePNG(n int) []byte {
	data := make([]byte, n)
	data[0], data[1] = 0x89, 0x50
	return data
}

func fixedSize(n int) Recompressor {
	return func([]byte) ([]byte, error) {
		return fakePNG(n), nil
	}
}

func writeMaster(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write master: %v", err)
	}
	return path
}

func TestOptimizeAcceptsSmallerOutput(t *testing.T) {
	path := writeMaster(t, "avatar.png", fakePNG(50000))

	result, err := newTestOptimizer().WithRecompressor(common.FormatPNG, fixedSize(40000)).Optimize(path)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if result.Kept {
		t.Error("Expected optimized output to be applied")
	}
	if result.OriginalBytes != 50000 || result.AppliedBytes != 40000 {
		t.Errorf("Expected 50000 -> 40000, got %d -> %d", result.OriginalBytes, result.AppliedBytes)
	}

	info, err := os.Stat(result.Path)
	if err != nil {
		t.Fatalf("Failed to stat master: %v", err)
	}
	if info.Size() != 40000 {
		t.Errorf("Expected stored master of 40000 bytes, got %d", info.Size())
	}
	if filepath.Ext(result.Path) != ".png" {
		t.Errorf("Expected .png extension, got %s", result.Path)
	}
}

func TestOptimizeNeverGrowsMaster(t *testing.T) {
	tests := []struct {
		name       string
		recompress Recompressor
	}{
		{"larger output", fixedSize(60000)},
		{"equal output", fixedSize(50000)},
		{"encoder failure", func([]byte) ([]byte, error) { return nil, errors.New("codec exploded") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := fakePNG(50000)
			original[100] = 0x42
			path := writeMaster(t, "avatar.png", original)

			result, err := newTestOptimizer().WithRecompressor(common.FormatPNG, tt.recompress).Optimize(path)
			if err != nil {
				t.Fatalf("Optimize failed: %v", err)
			}
			if !result.Kept {
				t.Error("Expected original to be kept")
			}
			if result.AppliedBytes > result.OriginalBytes {
				t.Errorf("Master grew: %d > %d", result.AppliedBytes, result.OriginalBytes)
			}

			stored, _ := os.ReadFile(path)
			if !bytes.Equal(stored, original) {
				t.Error("Master bytes changed although optimization was rejected")
			}
		})
	}
}

func TestOptimizeCorrectsExtension(t *testing.T) {
	path := writeMaster(t, "avatar.jpg", fakePNG(1000))

	result, err := newTestOptimizer().WithRecompressor(common.FormatPNG, fixedSize(900)).Optimize(path)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	want := filepath.Join(filepath.Dir(path), "avatar.png")
	if result.Path != want {
		t.Errorf("Expected corrected path %s, got %s", want, result.Path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Old path should no longer exist")
	}
	if info, err := os.Stat(want); err != nil || info.Size() != 900 {
		t.Errorf("Expected 900 byte master at %s", want)
	}
	if result.Master().Format != common.FormatPNG {
		t.Errorf("Expected PNG master, got %s", result.Master().Format)
	}
}

func TestOptimizeUnknownFormatKeepsBytes(t *testing.T) {
	original := []byte("GIF89a-not-really")
	path := writeMaster(t, "avatar.gif", original)

	logger, hook := test.NewNullLogger()
	result, err := NewOptimizer(logrus.NewEntry(logger)).Optimize(path)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if !result.Kept || result.Path != path || result.Format != common.FormatUnknown {
		t.Errorf("Unexpected result %+v", result)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatal("Expected a warning for the unknown format")
	}
	var formatErr *common.FormatError
	if err, ok := entry.Data[logrus.ErrorKey].(error); !ok || !errors.As(err, &formatErr) {
		t.Errorf("Expected a FormatError in the log entry, got %v", entry.Data[logrus.ErrorKey])
	}
}

func TestOptimizeMissingMaster(t *testing.T) {
	_, err := newTestOptimizer().Optimize(filepath.Join(t.TempDir(), "missing.png"))
	var fsErr *common.FileSystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("Expected FileSystemError, got %v", err)
	}
}

func TestRecompressPNGShrinksUncompressedInput(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	path := writeMaster(t, "avatar.png", buf.Bytes())

	result, err := newTestOptimizer().Optimize(path)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Kept {
		t.Fatal("Expected best-compression PNG to beat an uncompressed one")
	}

	stored, _ := os.ReadFile(result.Path)
	decoded, err := png.Decode(bytes.NewReader(stored))
	if err != nil {
		t.Fatalf("Optimized master is not a valid PNG: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Bounds changed: %v", decoded.Bounds())
	}
}

func TestRecompressJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	if _, err := RecompressJPEG([]byte("not an image")); err == nil {
		t.Error("Expected decode error for garbage input")
	}
	out, err := RecompressJPEG(buf.Bytes())
	if err != nil {
		t.Fatalf("RecompressJPEG failed: %v", err)
	}
	if common.Classify(out) != common.FormatJPEG {
		t.Errorf("Expected JPEG output, got %s", common.Classify(out))
	}
	// SOF2 starts a progressive frame; entropy data never contains it
	if !bytes.Contains(out, []byte{0xFF, 0xC2}) {
		t.Error("Expected a progressive (SOF2) JPEG")
	}
	if bytes.Contains(out, []byte{0xFF, 0xC0}) {
		t.Error("Unexpected baseline (SOF0) frame")
	}
}
