package rewriter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sitebuild/common"
)

// Verify parses the rewritten document and checks that its avatar
// references agree with refs. It never modifies the document.
func Verify(doc []byte, placeholder string, refs common.References) error {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	var problems []string

	parsed.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, _ := img.Attr("src"); src == placeholder {
			problems = append(problems, "img still references the placeholder")
		}
	})

	parsed.Find("source").Each(func(_ int, source *goquery.Selection) {
		if srcset, _ := source.Attr("srcset"); srcset == placeholder {
			problems = append(problems, "source still references the placeholder")
		}
	})

	if !refs.HasAlternate() {
		parsed.Find("picture").Each(func(_ int, picture *goquery.Selection) {
			src, _ := picture.Find("img").Attr("src")
			if src != refs.MasterURL {
				return
			}
			if picture.Find(`source[type="image/webp"]`).Length() > 0 {
				problems = append(problems, "webp source present but no alternate rendition exists")
			}
		})
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
