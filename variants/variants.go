package variants

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"sitebuild/common"
)

// AlternateQualities is the descending quality sequence tried for the
// full-size WebP rendition. The first level that beats the master wins.
var AlternateQualities = []int{80, 75, 70, 65, 60}

// SizedDimensions is the fixed catalog of square cover-cropped renditions
var SizedDimensions = []int{96, 192, 384}

const (
	// BaselineQuality applies to JPEG sized variants
	BaselineQuality = 80
	// AlternateSizedQuality applies to WebP sized variants
	AlternateSizedQuality = 75
)

var errNotSmaller = errors.New("not smaller than master")

// Encoder turns a decoded image into bytes of the given format
type Encoder func(img image.Image, format common.Format, quality int) ([]byte, error)

// Set is everything Generate produced for one master
type Set struct {
	// Alternate is nil when no quality level beat the master's size
	Alternate *common.Variant
	Sized     []common.Variant
	Outcomes  []common.Outcome
}

// Summary aggregates the outcomes of the run
func (s *Set) Summary() common.Summary {
	return common.Summarize(s.Outcomes)
}

// All returns every written variant, alternate first
func (s *Set) All() []common.Variant {
	all := make([]common.Variant, 0, len(s.Sized)+1)
	if s.Alternate != nil {
		all = append(all, *s.Alternate)
	}
	return append(all, s.Sized...)
}

// Generator derives the variant catalog from a master image
type Generator struct {
	encode Encoder
	log    *logrus.Entry
}

// NewGenerator creates a generator using the real codecs
func NewGenerator(log *logrus.Entry) *Generator {
	return &Generator{
		encode: Encode,
		log:    log.WithField("component", "variants"),
	}
}

// WithEncoder replaces the codec used for every rendition
func (g *Generator) WithEncoder(enc Encoder) *Generator {
	g.encode = enc
	return g
}

// Generate writes the alternate-format rendition (if any level qualifies)
// and every sized variant next to the master. Only a master that cannot be
// read is an error; codec and write failures are recorded as outcomes.
func (g *Generator) Generate(masterPath string, masterSize int64) (*Set, error) {
	data, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, &common.FileSystemError{Op: "read", Path: masterPath, Err: err}
	}

	set := &Set{}
	stem := strings.TrimSuffix(masterPath, filepath.Ext(masterPath))
	alternatePath := AlternatePath(masterPath)
	log := g.log.WithField("master", masterPath)

	// A master already stored under the alternate name is never replaced
	// or removed by the alternate search
	ownsAlternate := alternatePath != masterPath

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		set.Outcomes = append(set.Outcomes, common.Absorbed("decode", err))
		if ownsAlternate {
			removeStale(alternatePath, log)
		}
		log.WithError(err).Warn("Cannot decode master, skipping variants")
		return set, nil
	}

	if ownsAlternate {
		set.Alternate = g.searchAlternate(img, alternatePath, masterSize, set, log)
		if set.Alternate == nil {
			removeStale(alternatePath, log)
		}
	} else {
		log.Info("Master already uses the alternate name, skipping alternate search")
	}

	baseline := common.Classify(data)
	if baseline == common.FormatUnknown {
		baseline = common.FormatJPEG
	}
	for _, dim := range SizedDimensions {
		cropped := imaging.Fill(img, dim, dim, imaging.Center, imaging.Lanczos)
		for _, rendition := range []struct {
			format  common.Format
			quality int
		}{
			{baseline, baselineQuality(baseline)},
			{common.FormatWebP, AlternateSizedQuality},
		} {
			path := fmt.Sprintf("%s-%d%s", stem, dim, rendition.format.Extension())
			variant, outcome := g.writeVariant(cropped, path, dim, rendition.format, rendition.quality)
			set.Outcomes = append(set.Outcomes, outcome)
			if outcome.Status == common.OutcomeDone {
				set.Sized = append(set.Sized, *variant)
			} else {
				log.WithError(outcome.Err).WithField("variant", outcome.Unit).Warn("Variant failed")
			}
		}
	}

	fields := logrus.Fields{"sized": len(set.Sized), "outcomes": set.Summary().String()}
	if set.Alternate != nil {
		fields["alternate_quality"] = set.Alternate.Quality
		fields["alternate_bytes"] = set.Alternate.Size
	}
	log.WithFields(fields).Info("Generated variants")
	return set, nil
}

// AlternatePath returns where the full-size alternate rendition of the
// master at masterPath lives
func AlternatePath(masterPath string) string {
	return strings.TrimSuffix(masterPath, filepath.Ext(masterPath)) + common.FormatWebP.Extension()
}

// searchAlternate walks AlternateQualities in order and writes the first
// encoding strictly smaller than masterSize. Lower levels are never tried
// once one succeeds.
func (g *Generator) searchAlternate(img image.Image, path string, masterSize int64, set *Set, log *logrus.Entry) *common.Variant {
	for _, quality := range AlternateQualities {
		unit := fmt.Sprintf("full/webp@q%d", quality)

		encoded, err := g.encode(img, common.FormatWebP, quality)
		if err != nil {
			set.Outcomes = append(set.Outcomes, common.Absorbed(unit, &common.EncodeError{Format: common.FormatWebP, Quality: quality, Err: err}))
			continue
		}
		if int64(len(encoded)) >= masterSize {
			log.WithFields(logrus.Fields{"quality": quality, "bytes": len(encoded), "master_bytes": masterSize}).Debug("Alternate level did not qualify")
			set.Outcomes = append(set.Outcomes, common.Skipped(unit, errNotSmaller))
			continue
		}

		if err := common.WriteFileAtomic(path, encoded, 0644); err != nil {
			set.Outcomes = append(set.Outcomes, common.Absorbed(unit, err))
			return nil
		}
		set.Outcomes = append(set.Outcomes, common.Done(unit))
		return &common.Variant{
			Path:    path,
			Format:  common.FormatWebP,
			Quality: quality,
			Size:    int64(len(encoded)),
		}
	}
	return nil
}

func (g *Generator) writeVariant(img image.Image, path string, dim int, format common.Format, quality int) (*common.Variant, common.Outcome) {
	unit := fmt.Sprintf("%d/%s", dim, format)

	encoded, err := g.encode(img, format, quality)
	if err != nil {
		return nil, common.Absorbed(unit, &common.EncodeError{Format: format, Quality: quality, Dimension: dim, Err: err})
	}
	if err := common.WriteFileAtomic(path, encoded, 0644); err != nil {
		return nil, common.Absorbed(unit, err)
	}
	return &common.Variant{
		Path:      path,
		Dimension: dim,
		Format:    format,
		Quality:   quality,
		Size:      int64(len(encoded)),
	}, common.Done(unit)
}

func baselineQuality(format common.Format) int {
	if format == common.FormatJPEG {
		return BaselineQuality
	}
	return 0
}

// removeStale deletes an alternate rendition left by an earlier build so
// the files on disk match this run's decision
func removeStale(path string, log *logrus.Entry) {
	if err := os.Remove(path); err == nil {
		log.WithField("path", path).Info("Removed stale alternate rendition")
	}
}

// Encode is the default Encoder: imaging for PNG/JPEG, libwebp for WebP
func Encode(img image.Image, format common.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case common.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
	case common.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, err
		}
	case common.FormatWebP:
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetPhoto, float32(quality))
		if err != nil {
			return nil, fmt.Errorf("failed to build webp options: %w", err)
		}
		if err := webp.Encode(&buf, img, options); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}
