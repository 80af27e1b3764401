package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sitebuild/common"
	"sitebuild/config"
)

// Artifact is one compressed sibling written by the stage
type Artifact struct {
	Source    string
	Path      string
	Algorithm Algorithm
	Size      int64
}

// Report is the aggregated result of one stage run
type Report struct {
	Artifacts []Artifact
	Outcomes  []common.Outcome
}

// Summary aggregates the outcomes of the run
func (r *Report) Summary() common.Summary {
	return common.Summarize(r.Outcomes)
}

// Stage pre-compresses a fixed list of text artifacts with every
// configured algorithm. It is best-effort: nothing it does fails the build.
type Stage struct {
	algorithms  []Algorithm
	levels      map[Algorithm]int
	concurrency int
	log         *logrus.Entry
}

// NewStage creates a stage from the compression section of the config.
// Unknown algorithm names are reported and dropped.
func NewStage(cfg config.CompressionConfig, log *logrus.Entry) *Stage {
	log = log.WithField("component", "compressor")

	stage := &Stage{
		levels:      make(map[Algorithm]int),
		concurrency: cfg.Concurrency,
		log:         log,
	}
	if stage.concurrency <= 0 {
		stage.concurrency = runtime.NumCPU()
	}

	for _, name := range cfg.Algorithms {
		algo, err := ParseAlgorithm(name)
		if err != nil {
			log.WithError(err).Warn("Ignoring configured algorithm")
			continue
		}
		stage.algorithms = append(stage.algorithms, algo)
	}
	for name, level := range cfg.Levels {
		stage.levels[Algorithm(name)] = level
	}
	return stage
}

// Algorithms returns the configured algorithms in order
func (s *Stage) Algorithms() []Algorithm {
	return append([]Algorithm(nil), s.algorithms...)
}

// Run compresses dir/file for every file and configured algorithm.
// Missing files are skipped with a warning and per-unit failures are
// logged; the report is assembled after every unit has finished.
func (s *Stage) Run(ctx context.Context, dir string, files []string) *Report {
	type unit struct {
		file string
		algo Algorithm
	}

	var mu sync.Mutex
	var units []unit
	report := &Report{}
	sources := map[string][]byte{}

	// Read each source once; a missing one skips all of its algorithms
	for _, file := range files {
		path := filepath.Join(dir, file)
		data, err := os.ReadFile(path)
		if err != nil {
			fsErr := &common.FileSystemError{Op: "read", Path: path, Err: err}
			if errors.Is(err, os.ErrNotExist) {
				report.Outcomes = append(report.Outcomes, common.Skipped(file, fsErr))
				s.log.WithField("file", path).Warn("Skipping compression, file not found")
			} else {
				report.Outcomes = append(report.Outcomes, common.Absorbed(file, fsErr))
				s.log.WithError(fsErr).Warn("Skipping compression, file unreadable")
			}
			continue
		}
		sources[file] = data
		for _, algo := range s.algorithms {
			units = append(units, unit{file: file, algo: algo})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, u := range units {
		g.Go(func() error {
			artifact, outcome := s.compressOne(ctx, dir, u.file, sources[u.file], u.algo)
			mu.Lock()
			defer mu.Unlock()
			report.Outcomes = append(report.Outcomes, outcome)
			if artifact != nil {
				report.Artifacts = append(report.Artifacts, *artifact)
			}
			// Failures stay in the report; returning nil keeps siblings running
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Artifacts, func(i, j int) bool {
		if report.Artifacts[i].Source != report.Artifacts[j].Source {
			return report.Artifacts[i].Source < report.Artifacts[j].Source
		}
		return report.Artifacts[i].Algorithm < report.Artifacts[j].Algorithm
	})

	summary := report.Summary()
	fields := logrus.Fields{"artifacts": len(report.Artifacts), "outcomes": summary.String()}
	if summary.Absorbed > 0 || summary.Skipped > 0 {
		s.log.WithFields(fields).Warn("Compression finished with skipped or failed units")
	} else {
		s.log.WithFields(fields).Info("✓ Compression finished")
	}
	return report
}

func (s *Stage) compressOne(ctx context.Context, dir, file string, data []byte, algo Algorithm) (*Artifact, common.Outcome) {
	unit := fmt.Sprintf("%s/%s", file, algo)
	log := s.log.WithFields(logrus.Fields{"file": file, "algorithm": algo})

	if err := ctx.Err(); err != nil {
		return nil, common.Absorbed(unit, err)
	}

	level := s.levels[algo]
	compressed, err := Compress(data, algo, level)
	if err != nil {
		log.WithError(err).Warn("Compression failed")
		return nil, common.Absorbed(unit, err)
	}

	path := SiblingPath(filepath.Join(dir, file), algo)
	if err := common.WriteFileAtomic(path, compressed, 0644); err != nil {
		log.WithError(err).Warn("Failed to write compressed file")
		return nil, common.Absorbed(unit, err)
	}

	log.WithFields(logrus.Fields{
		"level":      level,
		"original":   len(data),
		"compressed": len(compressed),
	}).Debug("Compressed")
	return &Artifact{Source: file, Path: path, Algorithm: algo, Size: int64(len(compressed))}, common.Done(unit)
}
