package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
	"github.com/conneroisu/tramline/internal/validation"
)

// stylesheetAttrs survive onto the generated <link> or <style>.
var stylesheetAttrs = []string{"media", "title", "nonce"}

// StylesheetPipeline compiles SCSS/Sass through the external compiler:
//
//	sass --no-source-map [--style=compressed] <in> <out>
type StylesheetPipeline struct{}

func (p *StylesheetPipeline) Kind() manifest.Kind { return manifest.KindStylesheet }

func (p *StylesheetPipeline) Validate(cfg *Config) error {
	if err := validation.ValidateCommand(cfg.Toolchain.Sass); err != nil {
		return errors.NewValidationError(fmt.Sprintf("stylesheet compiler command: %v", err)).WithSource(cfg.Name())
	}
	if cfg.Source == "" {
		return errors.NewValidationError("stylesheet directive requires href").WithSource(cfg.Name())
	}
	if cfg.ScratchDir == "" {
		return errors.NewValidationError("stylesheet pipeline requires a scratch directory").WithSource(cfg.Name())
	}
	return nil
}

func (p *StylesheetPipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	if _, err := os.Stat(cfg.Source); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "stylesheet source not found", err).
			WithLocation(cfg.Source, 0, 0)
	}

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to create scratch directory", err)
	}
	base, _ := SplitName(cfg.Source)
	out := filepath.Join(cfg.ScratchDir, base+".css")

	args := []string{"--no-source-map"}
	if cfg.Release {
		args = append(args, "--style=compressed")
	}
	args = append(args, cfg.Source, out)

	proc, err := RunProcess(ctx, Command{Name: cfg.Toolchain.Sass, Args: args, Dir: cfg.WorkDir})
	if err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		compileErr := errors.NewCompileError(cfg.Name(), "stylesheet compilation failed", err)
		if proc != nil {
			compileErr.WithOutput(proc.Diagnostics())
		}
		return nil, compileErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	css, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read compiled stylesheet", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []Artifact{stylesheetArtifact(cfg, base, css)}, nil
}

// CSSPipeline publishes a plain stylesheet unchanged apart from its name.
type CSSPipeline struct{}

func (p *CSSPipeline) Kind() manifest.Kind { return manifest.KindCSS }

func (p *CSSPipeline) Validate(cfg *Config) error {
	if cfg.Source == "" {
		return errors.NewValidationError("css directive requires href").WithSource(cfg.Name())
	}
	return nil
}

func (p *CSSPipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	css, err := os.ReadFile(cfg.Source)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read stylesheet", err).
			WithLocation(cfg.Source, 0, 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, _ := SplitName(cfg.Source)
	return []Artifact{stylesheetArtifact(cfg, base, css)}, nil
}

func stylesheetArtifact(cfg *Config, base string, css []byte) Artifact {
	hash := ContentHash(css)
	return Artifact{
		Role:       RoleStylesheet,
		FileName:   HashedName(base, hash, "css"),
		TargetPath: cfg.TargetPath,
		Hash:       hash,
		MIMEType:   "text/css",
		Content:    css,
		Inline:     cfg.Directive.HasAttr("data-inline"),
		Attrs:      passthroughAttrs(cfg.Directive, stylesheetAttrs...),
	}
}
