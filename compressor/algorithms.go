package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	AlgorithmBrotli Algorithm = "brotli"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmSnappy Algorithm = "snappy"
)

var ErrUnsupportedAlgorithm = errors.New("compressor: unsupported compression algorithm")

// Extension mapping for sibling files
var extensionMap = map[Algorithm]string{
	AlgorithmBrotli: ".br",
	AlgorithmGzip:   ".gz",
	AlgorithmZstd:   ".zst",
	AlgorithmLZ4:    ".lz4",
	AlgorithmSnappy: ".sz",
}

// brotliWindowBits is the largest window brotli's encoder accepts
const brotliWindowBits = 24

// lz4Levels maps 0-9 onto the library's named levels
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Algorithms lists every supported algorithm
func Algorithms() []Algorithm {
	return []Algorithm{AlgorithmBrotli, AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4, AlgorithmSnappy}
}

// ParseAlgorithm parses an algorithm name
func ParseAlgorithm(name string) (Algorithm, error) {
	algo := Algorithm(name)
	if _, ok := extensionMap[algo]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return algo, nil
}

// Extension returns the sibling-file extension for an algorithm
func (a Algorithm) Extension() string {
	return extensionMap[a]
}

// SiblingPath returns the path a compressed copy of name is written to
func SiblingPath(name string, algo Algorithm) string {
	return name + algo.Extension()
}

// createCompressor creates a compressor for the specified algorithm
func createCompressor(algo Algorithm, w io.Writer, level int) (io.WriteCloser, error) {
	switch algo {
	case AlgorithmBrotli:
		return brotli.NewWriterOptions(w, brotli.WriterOptions{
			Quality: clamp(level, brotli.BestSpeed, brotli.BestCompression),
			LGWin:   brotliWindowBits,
		}), nil
	case AlgorithmGzip:
		return gzip.NewWriterLevel(w, clamp(level, gzip.BestSpeed, gzip.BestCompression))
	case AlgorithmZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	case AlgorithmLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[clamp(level, 0, len(lz4Levels)-1)])); err != nil {
			return nil, err
		}
		return zw, nil
	case AlgorithmSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// createDecompressor creates a decompressor for the specified algorithm
func createDecompressor(algo Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algo {
	case AlgorithmBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case AlgorithmGzip:
		return gzip.NewReader(r)
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case AlgorithmLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case AlgorithmSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Compress compresses data using the specified algorithm and level
func Compress(data []byte, algo Algorithm, level int) ([]byte, error) {
	var buf bytes.Buffer

	compressor, err := createCompressor(algo, &buf, level)
	if err != nil {
		return nil, err
	}

	if _, err := compressor.Write(data); err != nil {
		compressor.Close()
		return nil, err
	}

	if err := compressor.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decompress decompresses data using the specified algorithm
func Decompress(data []byte, algo Algorithm) ([]byte, error) {
	decompressor, err := createDecompressor(algo, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer decompressor.Close()

	return io.ReadAll(decompressor)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
