package optimizer

import (
	"bytes"
	"fmt"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/sirupsen/logrus"

	"sitebuild/common"
)

// JPEGQuality is the fixed perceptual quality used to recompress JPEG masters
const JPEGQuality = 82

// progressiveLevel is jpegli's most progressive scan script
const progressiveLevel = 2

// Recompressor re-encodes an image in its own format
type Recompressor func(src []byte) ([]byte, error)

// Result describes what Optimize did to the master.
// Path is the master's final location and must be used downstream.
type Result struct {
	Path          string
	Format        common.Format
	OriginalBytes int64
	AppliedBytes  int64
	Kept          bool
}

// Optimizer recompresses the master asset, keeping the output only when
// it is strictly smaller than the input
type Optimizer struct {
	recompressors map[common.Format]Recompressor
	log           *logrus.Entry
}

// NewOptimizer creates an optimizer with the default PNG and JPEG recompressors
func NewOptimizer(log *logrus.Entry) *Optimizer {
	return &Optimizer{
		recompressors: map[common.Format]Recompressor{
			common.FormatPNG:  RecompressPNG,
			common.FormatJPEG: RecompressJPEG,
		},
		log: log.WithField("component", "optimizer"),
	}
}

// WithRecompressor replaces the recompressor used for format
func (o *Optimizer) WithRecompressor(format common.Format, fn Recompressor) *Optimizer {
	o.recompressors[format] = fn
	return o
}

// Optimize recompresses the file at masterPath in place.
// If the extension disagrees with the detected format the file is renamed
// first. Only I/O failures are returned; codec failures keep the original.
func (o *Optimizer) Optimize(masterPath string) (*Result, error) {
	original, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, &common.FileSystemError{Op: "read", Path: masterPath, Err: err}
	}

	format := common.Classify(original)
	result := &Result{
		Path:          masterPath,
		Format:        format,
		OriginalBytes: int64(len(original)),
		AppliedBytes:  int64(len(original)),
		Kept:          true,
	}
	log := o.log.WithFields(logrus.Fields{"path": masterPath, "format": format})

	if format == common.FormatUnknown {
		magic := original
		if len(magic) > 4 {
			magic = magic[:4]
		}
		log.WithError(&common.FormatError{Path: masterPath, Magic: magic}).Warn("Keeping master unmodified")
		return result, nil
	}

	if common.FormatFromPath(masterPath) != format {
		renamed := common.ReplaceExtension(masterPath, format.Extension())
		if err := os.Rename(masterPath, renamed); err != nil {
			return nil, &common.FileSystemError{Op: "rename", Path: masterPath, Err: err}
		}
		log.WithField("renamed", renamed).Info("Corrected master extension")
		result.Path = renamed
		log = log.WithField("path", renamed)
	}

	recompress, ok := o.recompressors[format]
	if !ok {
		return result, nil
	}

	optimized, err := recompress(original)
	if err != nil {
		log.WithError(&common.EncodeError{Format: format, Err: err}).Warn("Recompression failed, keeping original")
		return result, nil
	}

	if len(optimized) >= len(original) {
		log.WithFields(logrus.Fields{
			"original":  len(original),
			"optimized": len(optimized),
		}).Info("Recompressed master is not smaller, keeping original")
		return result, nil
	}

	if err := common.WriteFileAtomic(result.Path, optimized, 0644); err != nil {
		return nil, err
	}

	result.AppliedBytes = int64(len(optimized))
	result.Kept = false
	log.WithFields(logrus.Fields{
		"original":  len(original),
		"optimized": len(optimized),
	}).Infof("✓ Optimized master (saved %.1f%%)", savedPercent(result.OriginalBytes, result.AppliedBytes))
	return result, nil
}

// Master returns the optimized master as a MasterAsset
func (r *Result) Master() common.MasterAsset {
	return common.MasterAsset{Path: r.Path, Format: r.Format, Size: r.AppliedBytes}
}

// RecompressPNG re-encodes a PNG at maximum lossless effort
func RecompressPNG(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RecompressJPEG re-encodes a JPEG as progressive at JPEGQuality,
// applying EXIF orientation
func RecompressJPEG(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
		Quality:          JPEGQuality,
		ProgressiveLevel: progressiveLevel,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func savedPercent(original, applied int64) float64 {
	if original == 0 {
		return 0
	}
	return (1 - float64(applied)/float64(original)) * 100
}
