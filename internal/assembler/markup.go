package assembler

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/tramline/internal/manifest"
	"github.com/conneroisu/tramline/internal/pipeline"
)

// renderDirective produces the markup that replaces a directive's element.
// Copy directives only place files and render nothing.
func renderDirective(d manifest.Directive, artifacts []pipeline.Artifact, publicURL string) string {
	switch d.Kind {
	case manifest.KindApplication:
		return renderApplication(artifacts, publicURL)
	case manifest.KindCopyFile, manifest.KindCopyDir:
		return ""
	}

	var b strings.Builder
	for _, artifact := range artifacts {
		switch artifact.Role {
		case pipeline.RoleStylesheet:
			if artifact.Inline {
				b.WriteString(element("style", artifact.Attrs, string(artifact.Content)))
				continue
			}
			b.WriteString(void("link", artifact.Attrs,
				"rel", "stylesheet",
				"href", artifact.URL(publicURL)))
		case pipeline.RoleScript:
			if artifact.Inline {
				b.WriteString(element("script", artifact.Attrs, string(artifact.Content)))
				continue
			}
			b.WriteString(element("script", artifact.Attrs, "", "src", artifact.URL(publicURL)))
		case pipeline.RoleIcon:
			b.WriteString(void("link", artifact.Attrs,
				"rel", "icon",
				"href", artifact.URL(publicURL)))
		}
	}
	return b.String()
}

// renderApplication preloads the module and boots it through its glue
// script.
func renderApplication(artifacts []pipeline.Artifact, publicURL string) string {
	var script, wasm string
	for _, artifact := range artifacts {
		switch artifact.Role {
		case pipeline.RoleScript:
			script = artifact.URL(publicURL)
		case pipeline.RoleWasm:
			wasm = artifact.URL(publicURL)
		}
	}

	var b strings.Builder
	if wasm != "" {
		b.WriteString(void("link", nil,
			"rel", "preload",
			"href", wasm,
			"as", "fetch",
			"type", "application/wasm",
			"crossorigin", ""))
	}
	if script != "" {
		b.WriteString(void("link", nil,
			"rel", "modulepreload",
			"href", script,
			"crossorigin", ""))
		b.WriteString(element("script", nil,
			fmt.Sprintf("import init from %s;init(%s);", jsString(script), jsString(wasm)),
			"type", "module"))
	}
	return b.String()
}

// void renders a void element. fixed attributes come first, in order, and
// take precedence over passthrough attrs, which follow sorted by name.
func void(tag string, attrs map[string]string, fixed ...string) string {
	return "<" + tag + renderAttrs(attrs, fixed) + ">"
}

func element(tag string, attrs map[string]string, body string, fixed ...string) string {
	return "<" + tag + renderAttrs(attrs, fixed) + ">" + body + "</" + tag + ">"
}

func renderAttrs(attrs map[string]string, fixed []string) string {
	var b strings.Builder
	seen := make(map[string]bool, len(fixed)/2)
	for i := 0; i+1 < len(fixed); i += 2 {
		writeAttr(&b, fixed[i], fixed[i+1])
		seen[fixed[i]] = true
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		writeAttr(&b, name, attrs[name])
	}
	return b.String()
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	if value == "" {
		return
	}
	b.WriteString(`="`)
	b.WriteString(html.EscapeString(value))
	b.WriteByte('"')
}

func jsString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "<", `\x3c`)
	return "'" + r.Replace(s) + "'"
}
