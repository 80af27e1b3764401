// Package rewriter patches the avatar references of a built markup
// document. Substitutions are plain pattern replacements on the text,
// so markup the patterns do not touch is preserved byte for byte.
package rewriter

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sitebuild/common"
)

// Context names one of the places a reference can live
type Context string

const (
	ContextImageSource    Context = "img-src"
	ContextSourceSet      Context = "source-srcset"
	ContextOGWidth        Context = "og-image-width"
	ContextOGHeight       Context = "og-image-height"
	ContextStructuredData Context = "ld-json-image"
)

// Report counts substitutions per context
type Report struct {
	Replacements map[Context]int
	// RemovedSources counts alternate-format <source> elements dropped
	// because no alternate rendition exists
	RemovedSources int
}

// NoOp reports that no placeholder occurrence was found. This is the
// expected result of re-running on an already rewritten document.
func (r *Report) NoOp() bool {
	return r.Replacements[ContextImageSource] == 0 &&
		r.Replacements[ContextSourceSet] == 0 &&
		r.Replacements[ContextStructuredData] == 0 &&
		r.RemovedSources == 0
}

func (r *Report) String() string {
	parts := make([]string, 0, 5)
	for _, c := range []Context{ContextImageSource, ContextSourceSet, ContextOGWidth, ContextOGHeight, ContextStructuredData} {
		parts = append(parts, fmt.Sprintf("%s=%d", c, r.Replacements[c]))
	}
	if r.RemovedSources > 0 {
		parts = append(parts, fmt.Sprintf("removed-sources=%d", r.RemovedSources))
	}
	return strings.Join(parts, " ")
}

var (
	ldJSONBlock = regexp.MustCompile(`(?is)<script\b[^>]*\btype\s*=\s*"application/ld\+json"[^>]*>.*?</script>`)
	ogWidth     = metaPatterns("og:image:width")
	ogHeight    = metaPatterns("og:image:height")
)

// metaPatterns matches a meta tag's numeric content in either attribute
// order. The number is always capture group 2.
func metaPatterns(property string) []*regexp.Regexp {
	prop := regexp.QuoteMeta(property)
	return []*regexp.Regexp{
		regexp.MustCompile(`(<meta\b[^>]*\bproperty\s*=\s*"` + prop + `"[^>]*\bcontent\s*=\s*")(\d+)(")`),
		regexp.MustCompile(`(<meta\b[^>]*\bcontent\s*=\s*")(\d+)("[^>]*\bproperty\s*=\s*"` + prop + `")`),
	}
}

// Rewrite substitutes every reference to placeholder in doc. The result is
// computed entirely in memory; callers persist it with a single write.
func Rewrite(doc []byte, placeholder string, refs common.References) ([]byte, *Report) {
	report := &Report{Replacements: map[Context]int{}}
	ph := regexp.QuoteMeta(placeholder)
	out := doc

	// 1. primary image source
	imgSrc := regexp.MustCompile(`(<img\b[^>]*?\bsrc\s*=\s*")` + ph + `(")`)
	out, report.Replacements[ContextImageSource] = replaceGroups(imgSrc, out, refs.MasterURL)

	// 2. responsive source-set for the alternate format
	source := regexp.MustCompile(`[ \t]*<source\b[^>]*\bsrcset\s*=\s*"` + ph + `"[^>]*>(?:[ \t]*\r?\n)?`)
	if !refs.HasAlternate() && refs.RetiredAlternateURL != "" && refs.RetiredAlternateURL != refs.MasterURL {
		// also drop a source an earlier run pointed at a now deleted alternate
		retired := regexp.QuoteMeta(refs.RetiredAlternateURL)
		source = regexp.MustCompile(`[ \t]*<source\b[^>]*\bsrcset\s*=\s*"(?:` + ph + `|` + retired + `)"[^>]*>(?:[ \t]*\r?\n)?`)
	}
	if refs.HasAlternate() {
		n := 0
		out = source.ReplaceAllFunc(out, func(match []byte) []byte {
			n++
			return bytes.Replace(match, []byte(`"`+placeholder+`"`), []byte(`"`+refs.AlternateURL+`"`), 1)
		})
		report.Replacements[ContextSourceSet] = n
	} else {
		report.RemovedSources = len(source.FindAllIndex(out, -1))
		out = source.ReplaceAll(out, nil)
	}

	// 3 and 4. social preview dimensions, only where a number already exists
	if refs.Width > 0 {
		out, report.Replacements[ContextOGWidth] = replaceNumber(ogWidth, out, refs.Width)
	}
	if refs.Height > 0 {
		out, report.Replacements[ContextOGHeight] = replaceNumber(ogHeight, out, refs.Height)
	}

	// 5. structured data image URL
	ldImage := regexp.MustCompile(`("image"\s*:\s*")` + ph + `(")`)
	absolute := AbsoluteURL(refs.SiteURL, refs.MasterURL)
	n := 0
	out = ldJSONBlock.ReplaceAllFunc(out, func(block []byte) []byte {
		replaced, count := replaceGroups(ldImage, block, absolute)
		n += count
		return replaced
	})
	report.Replacements[ContextStructuredData] = n

	return out, report
}

// replaceGroups replaces the text between capture groups 1 and 2 with value
func replaceGroups(re *regexp.Regexp, src []byte, value string) ([]byte, int) {
	n := 0
	out := re.ReplaceAllFunc(src, func(match []byte) []byte {
		n++
		groups := re.FindSubmatch(match)
		var buf bytes.Buffer
		buf.Write(groups[1])
		buf.WriteString(value)
		buf.Write(groups[2])
		return buf.Bytes()
	})
	return out, n
}

func replaceNumber(patterns []*regexp.Regexp, src []byte, value int) ([]byte, int) {
	total := 0
	digits := strconv.Itoa(value)
	for _, re := range patterns {
		src = re.ReplaceAllFunc(src, func(match []byte) []byte {
			total++
			groups := re.FindSubmatch(match)
			var buf bytes.Buffer
			buf.Write(groups[1])
			buf.WriteString(digits)
			buf.Write(groups[3])
			return buf.Bytes()
		})
	}
	return src, total
}

// AbsoluteURL joins a site base URL and a site-relative path.
// Already absolute paths and an empty base are returned unchanged.
func AbsoluteURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
