package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"sitebuild/common"
	"sitebuild/compressor"
	"sitebuild/config"
	"sitebuild/fetcher"
	"sitebuild/manifest"
	"sitebuild/optimizer"
	"sitebuild/rewriter"
	"sitebuild/variants"
)

// Builder runs the post-build asset pipeline over a site's output tree
type Builder struct {
	cfg       *config.Config
	fetcher   *fetcher.Fetcher
	optimizer *optimizer.Optimizer
	variants  *variants.Generator
	log       *logrus.Entry

	skipAvatar      bool
	skipCompression bool
}

// Result summarizes one Build
type Result struct {
	// Fallback is true when the document was left pointing at the remote avatar
	Fallback    bool
	Master      *common.MasterAsset
	Variants    *variants.Set
	Rewrite     *rewriter.Report
	Compression *compressor.Report
}

// NewBuilder creates a new builder
func NewBuilder(cfg *config.Config, log *logrus.Entry) *Builder {
	return &Builder{
		cfg:       cfg,
		fetcher:   fetcher.NewFetcher(cfg.Fetch, log),
		optimizer: optimizer.NewOptimizer(log),
		variants:  variants.NewGenerator(log),
		log:       log.WithField("component", "builder"),
	}
}

// WithOptimizer replaces the master optimizer
func (b *Builder) WithOptimizer(o *optimizer.Optimizer) *Builder {
	b.optimizer = o
	return b
}

// WithGenerator replaces the variant generator
func (b *Builder) WithGenerator(g *variants.Generator) *Builder {
	b.variants = g
	return b
}

// SkipAvatar disables the avatar pipeline for this builder
func (b *Builder) SkipAvatar(skip bool) *Builder {
	b.skipAvatar = skip
	return b
}

// SkipCompression disables the compression stage for this builder
func (b *Builder) SkipCompression(skip bool) *Builder {
	b.skipCompression = skip
	return b
}

// Build checks the output tree, copies fonts, runs the avatar pipeline,
// pre-compresses the text artifacts and writes the asset manifest.
// Only a missing document or font is returned as an error; avatar
// failures fall back to the remote URL.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	b.log.WithField("output", b.cfg.Site.OutputDir).Info("🚀 Starting asset build")

	docPath := b.cfg.DocumentPath()
	if _, err := os.Stat(docPath); err != nil {
		return nil, fmt.Errorf("failed to find markup document: %w",
			&common.FileSystemError{Op: "stat", Path: docPath, Err: err})
	}

	if err := b.copyFonts(); err != nil {
		return nil, fmt.Errorf("failed to copy fonts: %w", err)
	}

	result := &Result{}
	if b.skipAvatar || !b.cfg.AvatarEnabled() {
		b.log.Info("Avatar pipeline disabled")
		result.Fallback = true
	} else if err := b.buildAvatar(ctx, docPath, result); err != nil {
		result.Fallback = true
		msg := "Avatar pipeline failed, document keeps the remote avatar URL"
		if fetcher.IsNetworkError(err) {
			msg = "Avatar unreachable, document keeps the remote avatar URL"
		}
		b.log.WithError(err).WithField("url", b.cfg.Avatar.URL).Warn(msg)
	}

	if !b.skipCompression && b.cfg.CompressionEnabled() {
		result.Compression = b.compress(ctx)
	}

	if err := b.writeManifest(result); err != nil {
		b.log.WithError(err).Warn("Failed to write asset manifest")
	}

	b.log.WithField("fallback", result.Fallback).Info("✓ Asset build complete")
	return result, nil
}

// Compress runs only the compression stage and refreshes the compressed
// section of an existing manifest
func (b *Builder) Compress(ctx context.Context) (*compressor.Report, error) {
	if _, err := os.Stat(b.cfg.Site.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to find output directory: %w",
			&common.FileSystemError{Op: "stat", Path: b.cfg.Site.OutputDir, Err: err})
	}

	report := b.compress(ctx)

	manifestPath := filepath.Join(b.cfg.Site.OutputDir, manifest.Filename)
	m, err := manifest.Load(manifestPath)
	if err != nil {
		m = manifest.New(b.cfg.Site.OutputDir)
	}
	m.Compressed = nil
	b.addCompressed(m, report)
	if err := m.Write(manifestPath); err != nil {
		b.log.WithError(err).Warn("Failed to write asset manifest")
	}
	return report, nil
}

// VerifyManifest re-hashes every file recorded in the output tree's
// manifest and returns the paths whose content changed since the build
func (b *Builder) VerifyManifest() ([]string, error) {
	m, err := manifest.Load(filepath.Join(b.cfg.Site.OutputDir, manifest.Filename))
	if err != nil {
		return nil, err
	}
	changed, err := m.Check()
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}
	for _, p := range changed {
		b.log.WithField("path", p).Warn("Asset changed since the build")
	}
	if len(changed) == 0 {
		b.log.Info("✓ All recorded assets match the manifest")
	}
	return changed, nil
}

func (b *Builder) compress(ctx context.Context) *compressor.Report {
	stage := compressor.NewStage(b.cfg.Compression, b.log)
	return stage.Run(ctx, b.cfg.Site.OutputDir, b.cfg.Compression.Files)
}

// buildAvatar runs fetch, optimize, variants and rewrite. Any returned
// error leaves the document untouched.
func (b *Builder) buildAvatar(ctx context.Context, docPath string, result *Result) error {
	raw, err := b.fetcher.Fetch(ctx, b.cfg.Avatar.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch avatar: %w", err)
	}

	masterPath := filepath.Join(b.cfg.AvatarDir(), b.cfg.Avatar.Name+masterExtension(raw))
	if err := common.WriteFileAtomic(masterPath, raw.Data, 0644); err != nil {
		return fmt.Errorf("failed to write master: %w", err)
	}

	optimized, err := b.optimizer.Optimize(masterPath)
	if err != nil {
		return fmt.Errorf("failed to optimize master: %w", err)
	}
	master := optimized.Master()

	// Dimensions always come from the final file, never from the response
	width, height, err := dimensions(master.Path)
	if err != nil {
		b.log.WithError(err).WithField("path", master.Path).Warn("Cannot read master dimensions")
	}
	master.Width, master.Height = width, height
	result.Master = &master

	set, err := b.variants.Generate(master.Path, master.Size)
	if err != nil {
		return fmt.Errorf("failed to generate variants: %w", err)
	}
	result.Variants = set

	refs := common.References{
		MasterURL: path.Join(b.cfg.Avatar.Dir, master.Filename()),
		SiteURL:   b.cfg.Site.URL,
		Width:     width,
		Height:    height,
	}
	if set.Alternate != nil {
		refs.AlternateURL = path.Join(b.cfg.Avatar.Dir, filepath.Base(set.Alternate.Path))
	} else {
		refs.RetiredAlternateURL = path.Join(b.cfg.Avatar.Dir, filepath.Base(variants.AlternatePath(master.Path)))
	}

	doc, err := os.ReadFile(docPath)
	if err != nil {
		return &common.FileSystemError{Op: "read", Path: docPath, Err: err}
	}

	rewritten, report := rewriter.Rewrite(doc, b.cfg.Avatar.URL, refs)
	result.Rewrite = report
	if report.NoOp() {
		b.log.WithField("document", docPath).Info("No avatar placeholder found, document already rewritten")
	}
	// Dimension updates alone still need a write
	if !bytes.Equal(rewritten, doc) {
		if err := common.WriteFileAtomic(docPath, rewritten, 0644); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
		b.log.WithFields(logrus.Fields{
			"document":     docPath,
			"replacements": report.String(),
		}).Info("✓ Rewrote avatar references")
	}

	if err := rewriter.Verify(rewritten, b.cfg.Avatar.URL, refs); err != nil {
		b.log.WithError(err).Warn("Document references are inconsistent")
	}
	return nil
}

// masterExtension picks the initial master extension from the content,
// falling back to the URL's extension for unrecognized formats
func masterExtension(raw *common.RawAsset) string {
	if ext := common.Classify(raw.Data).Extension(); ext != "" {
		return ext
	}
	if u, err := url.Parse(raw.SourceURL); err == nil {
		return path.Ext(u.Path)
	}
	return ""
}

func dimensions(name string) (int, int, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// copyFonts copies every configured font into the output tree.
// A missing font aborts the build.
func (b *Builder) copyFonts() error {
	for _, font := range b.cfg.Fonts {
		dst := filepath.Join(b.cfg.Site.OutputDir, font.Dst)
		info, err := os.Stat(font.Src)
		if err != nil {
			return &common.FileSystemError{Op: "stat", Path: font.Src, Err: err}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return &common.FileSystemError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
		}
		if err := copyFile(font.Src, dst, info.Mode()); err != nil {
			return &common.FileSystemError{Op: "copy", Path: font.Src, Err: err}
		}
		b.log.WithField("font", dst).Debug("Copied font")
	}
	return nil
}

// copyFile copies a single file
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

func (b *Builder) writeManifest(result *Result) error {
	m := manifest.New(b.cfg.Site.OutputDir)
	m.SourceURL = b.cfg.Avatar.URL
	m.Fallback = result.Fallback

	var errs []error
	if !result.Fallback && result.Master != nil {
		if err := m.AddMaster(*result.Master); err != nil {
			errs = append(errs, err)
		}
		if result.Variants != nil {
			for _, v := range result.Variants.All() {
				if err := m.AddVariant(v); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	b.addCompressed(m, result.Compression)

	if err := m.Write(filepath.Join(b.cfg.Site.OutputDir, manifest.Filename)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Builder) addCompressed(m *manifest.Manifest, report *compressor.Report) {
	if report == nil {
		return
	}
	for _, a := range report.Artifacts {
		if err := m.AddCompressed(a.Source, a.Path, string(a.Algorithm)); err != nil {
			b.log.WithError(err).WithField("artifact", a.Path).Warn("Cannot record compressed artifact")
		}
	}
}
