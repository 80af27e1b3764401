package compressor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"sitebuild/common"
	"sitebuild/config"
)

var sample = []byte(strings.Repeat("<html><body><p>Hello, compressed world!</p></body></html>\n", 200))

func TestCompressRoundTrip(t *testing.T) {
	for _, algo := range Algorithms() {
		t.Run(string(algo), func(t *testing.T) {
			compressed, err := Compress(sample, algo, config.DefaultLevels[string(algo)])
			if err != nil {
				t.Fatalf("Failed to compress: %v", err)
			}
			if len(compressed) >= len(sample) {
				t.Errorf("Expected repetitive input to shrink, got %d >= %d", len(compressed), len(sample))
			}

			restored, err := Decompress(compressed, algo)
			if err != nil {
				t.Fatalf("Failed to decompress: %v", err)
			}
			if !bytes.Equal(restored, sample) {
				t.Error("Round trip changed the content")
			}
		})
	}
}

func TestCompressLevelsAreClamped(t *testing.T) {
	for _, algo := range Algorithms() {
		for _, level := range []int{-5, 0, 99} {
			compressed, err := Compress(sample, algo, level)
			if err != nil {
				t.Fatalf("%s level %d: failed to compress: %v", algo, level, err)
			}
			restored, err := Decompress(compressed, algo)
			if err != nil || !bytes.Equal(restored, sample) {
				t.Errorf("%s level %d: round trip failed: %v", algo, level, err)
			}
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		want    Algorithm
		wantErr bool
	}{
		{"brotli", AlgorithmBrotli, false},
		{"gzip", AlgorithmGzip, false},
		{"zstd", AlgorithmZstd, false},
		{"lz4", AlgorithmLZ4, false},
		{"snappy", AlgorithmSnappy, false},
		{"deflate", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedAlgorithm) {
					t.Errorf("Expected ErrUnsupportedAlgorithm, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSiblingPath(t *testing.T) {
	tests := map[Algorithm]string{
		AlgorithmBrotli: "dist/index.html.br",
		AlgorithmGzip:   "dist/index.html.gz",
		AlgorithmZstd:   "dist/index.html.zst",
		AlgorithmLZ4:    "dist/index.html.lz4",
		AlgorithmSnappy: "dist/index.html.sz",
	}
	for algo, want := range tests {
		if got := SiblingPath("dist/index.html", algo); got != want {
			t.Errorf("SiblingPath(%s) = %q, want %q", algo, got, want)
		}
	}
}

func newTestStage(t *testing.T, cfg config.CompressionConfig) (*Stage, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewStage(cfg, logrus.NewEntry(logger)), hook
}

func defaultCompression() config.CompressionConfig {
	return config.Default().Compression
}

func TestStageSkipsMissingFile(t *testing.T) {
	dir := t.TempDir()
	present := []string{"index.html", "sitemap.xml", "robots.txt", "site.webmanifest"}
	for _, name := range present {
		if err := os.WriteFile(filepath.Join(dir, name), sample, 0644); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
	}

	stage, hook := newTestStage(t, defaultCompression())
	report := stage.Run(context.Background(), dir, config.DefaultFiles)

	// 404.html is missing: one warning, no siblings, no abort
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Skipping compression, file not found" {
			if !strings.HasSuffix(entry.Data["file"].(string), "404.html") {
				t.Errorf("Warning names the wrong file: %v", entry.Data["file"])
			}
			warned = true
		}
	}
	if !warned {
		t.Error("Expected a warning for the missing file")
	}

	for _, algo := range stage.Algorithms() {
		if _, err := os.Stat(SiblingPath(filepath.Join(dir, "404.html"), algo)); !os.IsNotExist(err) {
			t.Errorf("No %s sibling expected for the missing file", algo)
		}
	}

	for _, name := range present {
		for _, algo := range stage.Algorithms() {
			data, err := os.ReadFile(SiblingPath(filepath.Join(dir, name), algo))
			if err != nil {
				t.Fatalf("Expected %s sibling for %s: %v", algo, name, err)
			}
			restored, err := Decompress(data, algo)
			if err != nil {
				t.Fatalf("Failed to decompress %s sibling of %s: %v", algo, name, err)
			}
			if !bytes.Equal(restored, sample) {
				t.Errorf("%s sibling of %s does not restore the original", algo, name)
			}
		}
	}

	summary := report.Summary()
	wantDone := len(present) * len(stage.Algorithms())
	if summary.Done != wantDone || summary.Skipped != 1 || summary.Absorbed != 0 {
		t.Errorf("Unexpected summary: %s", summary)
	}
	if len(report.Artifacts) != wantDone {
		t.Errorf("Expected %d artifacts, got %d", wantDone, len(report.Artifacts))
	}
	for i := 1; i < len(report.Artifacts); i++ {
		a, b := report.Artifacts[i-1], report.Artifacts[i]
		if a.Source > b.Source || (a.Source == b.Source && a.Algorithm > b.Algorithm) {
			t.Error("Artifacts are not sorted")
			break
		}
	}
}

func TestStageDropsUnknownAlgorithm(t *testing.T) {
	cfg := defaultCompression()
	cfg.Algorithms = []string{"gzip", "deflate", "snappy"}

	stage, hook := newTestStage(t, cfg)

	got := stage.Algorithms()
	if len(got) != 2 || got[0] != AlgorithmGzip || got[1] != AlgorithmSnappy {
		t.Errorf("Expected [gzip snappy], got %v", got)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Error("Expected a warning for the unknown algorithm")
	}
}

func TestStageUsesConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), sample, 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	cfg := defaultCompression()
	cfg.Algorithms = []string{"gzip"}

	cfg.Levels = map[string]int{"gzip": 1}
	fast, _ := newTestStage(t, cfg)
	fastReport := fast.Run(context.Background(), dir, []string{"index.html"})

	cfg.Levels = map[string]int{"gzip": 9}
	best, _ := newTestStage(t, cfg)
	bestReport := best.Run(context.Background(), dir, []string{"index.html"})

	if len(fastReport.Artifacts) != 1 || len(bestReport.Artifacts) != 1 {
		t.Fatalf("Expected one artifact per run, got %d and %d", len(fastReport.Artifacts), len(bestReport.Artifacts))
	}
	if bestReport.Artifacts[0].Size > fastReport.Artifacts[0].Size {
		t.Errorf("Level 9 output (%d) larger than level 1 output (%d)",
			bestReport.Artifacts[0].Size, fastReport.Artifacts[0].Size)
	}
}

func TestStageAbsorbsCancelledUnits(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), sample, 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage, _ := newTestStage(t, defaultCompression())
	report := stage.Run(ctx, dir, []string{"index.html"})

	summary := report.Summary()
	if summary.Absorbed != len(stage.Algorithms()) {
		t.Errorf("Expected every unit absorbed, got %s", summary)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Status == common.OutcomeDone {
			t.Errorf("Unit %s should not have completed", outcome.Unit)
		}
	}
}
