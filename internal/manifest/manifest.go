// Package manifest extracts build directives from an HTML template.
//
// A directive is an element carrying the boolean data-trunk marker:
//
//	<link data-trunk rel="rust" href="Cargo.toml" data-bin="app"/>
//	<link data-trunk rel="scss" href="style.scss"/>
//	<script data-trunk src="boot.js"></script>
//
// The parser streams the document through the golang.org/x/net/html
// tokenizer and records the byte span of every directive so the assembler
// can splice generated markup in without re-serialising (and so without
// touching) any other byte of the template.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/validation"
)

// Marker is the boolean attribute that turns an element into a directive.
const Marker = "data-trunk"

// Kind is the closed set of pipeline kinds a directive can select.
type Kind int

const (
	KindApplication Kind = iota
	KindStylesheet
	KindCSS
	KindInline
	KindIcon
	KindCopyFile
	KindCopyDir
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindApplication, KindStylesheet, KindCSS, KindInline, KindIcon, KindCopyFile, KindCopyDir}

// String returns the rel value that selects the kind.
func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "rust"
	case KindStylesheet:
		return "scss"
	case KindCSS:
		return "css"
	case KindInline:
		return "inline"
	case KindIcon:
		return "icon"
	case KindCopyFile:
		return "copy-file"
	case KindCopyDir:
		return "copy-dir"
	default:
		return "unknown"
	}
}

// ParseKind maps a rel attribute value to its kind.
func ParseKind(rel string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(rel)) {
	case "rust":
		return KindApplication, true
	case "scss", "sass":
		return KindStylesheet, true
	case "css":
		return KindCSS, true
	case "inline":
		return KindInline, true
	case "icon":
		return KindIcon, true
	case "copy-file":
		return KindCopyFile, true
	case "copy-dir":
		return KindCopyDir, true
	default:
		return 0, false
	}
}

// Directive is one asset declaration found in the template. Directives are
// immutable once parsed and are returned in document order.
type Directive struct {
	Index int
	Kind  Kind
	Tag   string
	// Href is the referenced source, relative to the template's directory.
	// Empty for inline bodies and for an application directive that relies
	// on the default manifest.
	Href string
	// Inline is the body of a <script data-trunk> element without src.
	Inline string
	Attrs  map[string]string
	// Start and End delimit the element in Document.Source, End exclusive.
	Start int
	End   int
	Line  int
}

// Attr returns an attribute value and whether it was present.
func (d Directive) Attr(name string) (string, bool) {
	v, ok := d.Attrs[name]
	return v, ok
}

// HasAttr reports whether the attribute is present, boolean or not.
func (d Directive) HasAttr(name string) bool {
	_, ok := d.Attrs[name]
	return ok
}

// Name identifies the directive in logs and diagnostics.
func (d Directive) Name() string {
	if d.Href != "" {
		return fmt.Sprintf("%s:%s", d.Kind, d.Href)
	}
	return fmt.Sprintf("%s#%d", d.Kind, d.Index)
}

// Document is the parsed template.
type Document struct {
	// Path is empty when the template did not come from a file.
	Path   string
	Source []byte
}

// Dir is the directory directive references resolve against.
func (d *Document) Dir() string {
	if d.Path == "" {
		return "."
	}
	return filepath.Dir(d.Path)
}

// Span returns the raw bytes of a directive's element.
func (d *Document) Span(directive Directive) []byte {
	return d.Source[directive.Start:directive.End]
}

// ParseFile reads and parses the template at path.
func ParseFile(path string) ([]Directive, *Document, error) {
	src, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, errors.NewParseError("failed to read template", err).WithLocation(path, 0, 0)
	}

	directives, doc, err := ParseBytes(src)
	if err != nil {
		var te *errors.TramlineError
		if errors.As(err, &te) && te.FilePath == "" {
			te.FilePath = path
		}
		return nil, nil, err
	}
	doc.Path = path

	return directives, doc, nil
}

// Parse reads the whole template from r and extracts its directives.
func Parse(r io.Reader) ([]Directive, *Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.NewParseError("failed to read template", err)
	}
	return ParseBytes(src)
}

// ParseBytes extracts the directives of src in document order. Malformed
// markup yields a parse error; a directive missing a field its kind requires
// yields a validation error. Either way no directives are returned.
func ParseBytes(src []byte) ([]Directive, *Document, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, nil, errors.NewParseError("empty document", nil)
	}

	p := &parser{
		src: src,
		z:   html.NewTokenizer(bytes.NewReader(src)),
	}
	if err := p.run(); err != nil {
		return nil, nil, err
	}

	return p.directives, &Document{Source: src}, nil
}

type parser struct {
	src        []byte
	z          *html.Tokenizer
	offset     int
	directives []Directive
	// open is a <script data-trunk> waiting for its end tag.
	open   *Directive
	hasApp bool
}

func (p *parser) run() error {
	for {
		tt := p.z.Next()
		start := p.offset
		// Raw must be measured before TagName/TagAttr rewrite the buffer.
		p.offset += len(p.z.Raw())

		switch tt {
		case html.ErrorToken:
			if err := p.z.Err(); err != io.EOF {
				return errors.NewParseError("malformed markup", err).WithLocation("", p.line(start), 0)
			}
			// A tag cut off by the end of input is reported as an error
			// token carrying the partial tag.
			if p.offset > start {
				return errors.NewParseError("malformed markup: unterminated tag", nil).
					WithLocation("", p.line(start), 0)
			}
			if p.open != nil {
				return errors.NewParseError("unterminated <script> directive", nil).
					WithLocation("", p.open.Line, 0)
			}
			return nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := p.z.TagName()
			if !hasAttr {
				continue
			}
			attrs := p.attrs()
			if _, ok := attrs[Marker]; !ok {
				continue
			}

			d := Directive{
				Index: len(p.directives),
				Tag:   string(name),
				Attrs: attrs,
				Start: start,
				End:   p.offset,
				Line:  p.line(start),
			}
			switch d.Tag {
			case "link":
				if err := p.link(&d); err != nil {
					return err
				}
				p.directives = append(p.directives, d)
			case "script":
				// The tokenizer treats script content as raw text, even
				// after a self-closing start tag, so wait for </script>.
				d.Kind = KindInline
				d.Href = strings.TrimSpace(attrs["src"])
				p.open = &d
			default:
				return errors.NewParseError(fmt.Sprintf("%s is not supported on <%s>", Marker, d.Tag), nil).
					WithLocation("", d.Line, 0)
			}

		case html.TextToken:
			if p.open != nil {
				p.open.Inline += string(p.src[start:p.offset])
			}

		case html.EndTagToken:
			if p.open == nil {
				continue
			}
			if name, _ := p.z.TagName(); string(name) == "script" {
				d := *p.open
				p.open = nil
				d.End = p.offset
				if err := p.script(&d); err != nil {
					return err
				}
				p.directives = append(p.directives, d)
			}
		}
	}
}

func (p *parser) attrs() map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := p.z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			return attrs
		}
	}
}

func (p *parser) link(d *Directive) error {
	rel, ok := d.Attrs["rel"]
	if !ok || strings.TrimSpace(rel) == "" {
		return p.invalid(d, "link directive is missing rel")
	}

	kind, ok := ParseKind(rel)
	if !ok {
		return errors.NewParseError(fmt.Sprintf("unknown directive kind %q", rel), nil).
			WithLocation("", d.Line, 0)
	}
	d.Kind = kind
	d.Href = strings.TrimSpace(d.Attrs["href"])

	if kind == KindApplication {
		if p.hasApp {
			return p.invalid(d, "only one rust application directive is allowed")
		}
		p.hasApp = true
	} else if d.Href == "" {
		return p.invalid(d, fmt.Sprintf("%s directive requires href", kind))
	}

	return validatePaths(p, d)
}

func (p *parser) script(d *Directive) error {
	if d.Href == "" && strings.TrimSpace(d.Inline) == "" {
		return p.invalid(d, "script directive requires src or an inline body")
	}
	if d.Href != "" {
		d.Inline = ""
	}
	return validatePaths(p, d)
}

// validatePaths keeps href inside the template's directory and
// data-target-path inside the output directory.
func validatePaths(p *parser, d *Directive) error {
	if err := validation.ValidateSourcePath(d.Href); err != nil {
		return p.invalid(d, fmt.Sprintf("invalid href: %v", err))
	}

	target, ok := d.Attrs["data-target-path"]
	if !ok {
		return nil
	}
	if err := validation.ValidateTargetPath(target); err != nil {
		return p.invalid(d, fmt.Sprintf("invalid data-target-path: %v", err))
	}
	return nil
}

func (p *parser) invalid(d *Directive, msg string) error {
	return errors.NewValidationError(msg).
		WithSource(fmt.Sprintf("<%s> directive #%d", d.Tag, d.Index)).
		WithLocation("", d.Line, 0)
}

func (p *parser) line(offset int) int {
	return bytes.Count(p.src[:offset], []byte("\n")) + 1
}
