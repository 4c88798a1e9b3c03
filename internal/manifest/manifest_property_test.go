//go:build property

package manifest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestManifestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Property: N well-formed directives yield exactly N, in document order
	properties.Property("directive count and order preserved", prop.ForAll(
		func(rels []string, filler string) bool {
			var b strings.Builder
			b.WriteString("<html><head>")
			elements := make([]string, len(rels))
			for i, rel := range rels {
				elements[i] = fmt.Sprintf(`<link data-trunk rel="%s" href="asset-%d">`, rel, i)
				b.WriteString(elements[i])
				b.WriteString("<p>" + filler + "</p>")
			}
			b.WriteString("</head></html>")

			directives, doc, err := ParseBytes([]byte(b.String()))
			if err != nil || len(directives) != len(rels) {
				return false
			}
			for i, d := range directives {
				if d.Kind.String() != rels[i] && !(rels[i] == "sass" && d.Kind == KindStylesheet) {
					return false
				}
				if string(doc.Span(d)) != elements[i] || d.Href != fmt.Sprintf("asset-%d", i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("scss", "sass", "css", "inline", "icon", "copy-file", "copy-dir")),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
