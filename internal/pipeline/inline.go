package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
)

// InlinePipeline embeds script or stylesheet content directly into the
// document. Sources are a <script data-trunk> body, its src, or the href of
// a rel="inline" link; the content type comes from the type attribute or
// the file extension.
type InlinePipeline struct{}

func (p *InlinePipeline) Kind() manifest.Kind { return manifest.KindInline }

func (p *InlinePipeline) Validate(cfg *Config) error {
	if cfg.Source == "" && strings.TrimSpace(cfg.Directive.Inline) == "" {
		return errors.NewValidationError("inline directive requires a source or a body").WithSource(cfg.Name())
	}
	if _, err := inlineRole(cfg); err != nil {
		return err
	}
	return nil
}

func (p *InlinePipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	role, err := inlineRole(cfg)
	if err != nil {
		return nil, err
	}

	content := []byte(cfg.Directive.Inline)
	base := "inline"
	if cfg.Source != "" {
		content, err = os.ReadFile(cfg.Source)
		if err != nil {
			return nil, errors.NewIOError(cfg.Name(), "failed to read inline source", err).
				WithLocation(cfg.Source, 0, 0)
		}
		base, _ = SplitName(cfg.Source)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ContentHash(content)
	artifact := Artifact{
		Role:     role,
		Hash:     hash,
		Content:  content,
		Inline:   true,
		MIMEType: "text/javascript",
		FileName: HashedName(base, hash, "js"),
		Attrs:    map[string]string{},
	}
	if role == RoleStylesheet {
		artifact.MIMEType = "text/css"
		artifact.FileName = HashedName(base, hash, "css")
		artifact.Attrs = passthroughAttrs(cfg.Directive, stylesheetAttrs...)
	} else if t, ok := cfg.Directive.Attr("type"); ok && isScriptType(t) {
		artifact.Attrs["type"] = t
	}

	return []Artifact{artifact}, nil
}

// inlineRole decides whether inline content is a script or a stylesheet.
func inlineRole(cfg *Config) (Role, error) {
	if cfg.Directive.Tag == "script" {
		return RoleScript, nil
	}

	kind, _ := cfg.Directive.Attr("type")
	if kind == "" {
		_, kind = SplitName(cfg.Source)
	}
	switch strings.ToLower(kind) {
	case "js", "mjs", "module", "text/javascript":
		return RoleScript, nil
	case "css", "text/css":
		return RoleStylesheet, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("cannot inline content of type %q", kind)).WithSource(cfg.Name())
	}
}

func isScriptType(t string) bool {
	switch strings.ToLower(t) {
	case "module", "text/javascript", "application/javascript":
		return true
	}
	return false
}
