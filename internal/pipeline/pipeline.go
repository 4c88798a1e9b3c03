// Package pipeline maps build directives to typed processing pipelines and
// runs them concurrently for one build generation.
//
// Every directive kind has exactly one Pipeline implementation, held in a
// closed Registry. A pipeline validates its resolved Config, reads or builds
// its source (delegating to an external tool where one is needed) and
// returns content-addressed Artifacts named <base>-<hex>.<ext>. The Executor
// runs all pipelines of a generation on a bounded worker pool and fails fast:
// the first error cancels the siblings and is the only error reported.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
)

// Toolchain names the external commands and project metadata the pipelines
// depend on.
type Toolchain struct {
	Cargo   string
	Bindgen string
	Sass    string
	// TargetDir is where the compiler writes its output.
	TargetDir string
	// AppName overrides the application name derived from the manifest.
	AppName string
}

// Options are the build-wide settings applied to every directive.
type Options struct {
	Release   bool
	PublicURL string
	Toolchain Toolchain
	// ScratchDir is a generation-private directory for intermediate output.
	ScratchDir string
}

// Config is a validated directive plus its resolved options. A Config is
// owned by the single pipeline task that processes it.
type Config struct {
	Directive manifest.Directive
	// Source is the directive's href resolved against the template
	// directory; empty for inline bodies.
	Source string
	// TargetPath is the directory below the output root artifacts land in.
	TargetPath string
	Release    bool
	PublicURL  string
	Toolchain  Toolchain
	// WorkDir is the template's directory.
	WorkDir string
	// ScratchDir is private to this directive within the generation.
	ScratchDir string
}

// Name identifies the directive in logs and errors.
func (c *Config) Name() string {
	return c.Directive.Name()
}

// Profile is the compiler profile implied by the release flag.
func (c *Config) Profile() string {
	if c.Release {
		return "release"
	}
	return "debug"
}

// Resolve turns parsed directives into pipeline configs, one per directive,
// in document order.
func Resolve(doc *manifest.Document, directives []manifest.Directive, opts Options) []*Config {
	workDir := doc.Dir()
	publicURL := opts.PublicURL
	if publicURL == "" {
		publicURL = "/"
	}
	if !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}

	configs := make([]*Config, len(directives))
	for i, d := range directives {
		cfg := &Config{
			Directive: d,
			Release:   opts.Release,
			PublicURL: publicURL,
			Toolchain: opts.Toolchain,
			WorkDir:   workDir,
		}
		if d.Href != "" {
			cfg.Source = filepath.Join(workDir, filepath.FromSlash(d.Href))
		}
		if target, ok := d.Attr("data-target-path"); ok {
			cfg.TargetPath = path.Clean(filepath.ToSlash(target))
			if cfg.TargetPath == "." {
				cfg.TargetPath = ""
			}
		}
		if opts.ScratchDir != "" {
			cfg.ScratchDir = filepath.Join(opts.ScratchDir, fmt.Sprintf("%d-%s", d.Index, d.Kind))
		}
		configs[i] = cfg
	}

	return configs
}

// Role says how an artifact is referenced from the rewritten document.
type Role string

const (
	RoleScript     Role = "script"
	RoleWasm       Role = "wasm"
	RoleStylesheet Role = "stylesheet"
	RoleIcon       Role = "icon"
	RoleFile       Role = "file"
	RoleDir        Role = "dir"
)

// Artifact is one output of a pipeline run. Artifacts are immutable once
// returned.
type Artifact struct {
	DirectiveIndex int
	Kind           manifest.Kind
	Role           Role
	// FileName is the final name, <base>-<hash>.<ext> for hashed outputs.
	FileName string
	// TargetPath is the directory below the output root, slash separated.
	TargetPath string
	Hash       string
	MIMEType   string
	// Content holds the bytes to publish. When nil, SourcePath names the
	// file or directory to copy instead.
	Content    []byte
	SourcePath string
	IsDir      bool
	// Inline artifacts are embedded into the document rather than written.
	Inline bool
	// Attrs carries directive attributes that survive into the generated
	// markup (type, media, crossorigin, ...).
	Attrs map[string]string
}

// RelPath is the artifact's slash-separated path relative to the output root.
func (a Artifact) RelPath() string {
	if a.TargetPath == "" {
		return a.FileName
	}
	return path.Join(a.TargetPath, a.FileName)
}

// URL is the artifact's public URL under publicURL.
func (a Artifact) URL(publicURL string) string {
	if !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}
	return publicURL + a.RelPath()
}

// Output groups the artifacts produced for one directive.
type Output struct {
	Directive manifest.Directive
	Artifacts []Artifact
}

// Pipeline is the capability every directive kind implements.
type Pipeline interface {
	Kind() manifest.Kind
	// Validate checks kind-specific requirements before any work starts.
	Validate(cfg *Config) error
	// Execute produces the directive's artifacts. Implementations check ctx
	// before spawning a subprocess and after each I/O step.
	Execute(ctx context.Context, cfg *Config) ([]Artifact, error)
}

// Registry is the closed mapping from directive kind to pipeline.
type Registry struct {
	pipelines map[manifest.Kind]Pipeline
}

// NewRegistry returns the registry holding every supported kind.
func NewRegistry() *Registry {
	r := &Registry{pipelines: make(map[manifest.Kind]Pipeline)}
	for _, p := range []Pipeline{
		&ApplicationPipeline{},
		&StylesheetPipeline{},
		&CSSPipeline{},
		&InlinePipeline{},
		&IconPipeline{},
		&CopyFilePipeline{},
		&CopyDirPipeline{},
	} {
		r.pipelines[p.Kind()] = p
	}
	return r
}

// Lookup returns the pipeline for kind.
func (r *Registry) Lookup(kind manifest.Kind) (Pipeline, error) {
	p, ok := r.pipelines[kind]
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("no pipeline registered for kind %s", kind), nil)
	}
	return p, nil
}

// passthroughAttrs keeps the directive attributes that belong on the
// generated element.
func passthroughAttrs(d manifest.Directive, names ...string) map[string]string {
	attrs := make(map[string]string)
	for _, name := range names {
		if v, ok := d.Attr(name); ok {
			attrs[name] = v
		}
	}
	return attrs
}
