// Package assembler turns the artifacts of one build generation into a
// complete output tree and publishes it.
//
// A generation is first written to a private staging directory next to the
// output root (<dist>.stage-<gen>). Only when every artifact and the
// rewritten document are on disk is the staging tree swapped into place, so
// readers of the output root observe either the previous bundle or the new
// one, never a mixture.
package assembler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/manifest"
	"github.com/conneroisu/tramline/internal/pipeline"
	"github.com/conneroisu/tramline/internal/validation"
)

// DocumentName is the file the rewritten template is written to.
const DocumentName = "index.html"

const (
	stageInfix    = ".stage-"
	scratchSuffix = "-work"
	prevSuffix    = ".prev"
)

// Assembler writes and publishes output trees for one output root.
type Assembler struct {
	dist      string
	publicURL string
	logger    logging.Logger

	mu        sync.Mutex
	published uint64
}

// New creates an assembler publishing to dist. Artifact references in the
// rewritten document are prefixed with publicURL.
func New(dist, publicURL string, logger logging.Logger) (*Assembler, error) {
	abs, err := filepath.Abs(dist)
	if err != nil {
		return nil, errors.NewAssemblyError("failed to resolve output directory", err)
	}
	if publicURL == "" {
		publicURL = "/"
	}
	if !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Assembler{
		dist:      abs,
		publicURL: publicURL,
		logger:    logger.WithComponent("assembler"),
	}, nil
}

// Dist returns the absolute output root.
func (a *Assembler) Dist() string {
	return a.dist
}

// PublicURL returns the prefix applied to artifact references.
func (a *Assembler) PublicURL() string {
	return a.publicURL
}

// StagingDir returns the staging directory of generation gen.
func (a *Assembler) StagingDir(gen uint64) string {
	return a.dist + stageInfix + strconv.FormatUint(gen, 10)
}

// ScratchDir returns the directory pipelines of generation gen may use for
// intermediate output. It sits next to the staging directory and is never
// published.
func (a *Assembler) ScratchDir(gen uint64) string {
	return a.StagingDir(gen) + scratchSuffix
}

// Published returns the generation currently in the output root, zero when
// nothing has been published by this assembler.
func (a *Assembler) Published() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published
}

// Staging is a fully or partially written output tree of one generation.
type Staging struct {
	Generation uint64
	Dir        string
	// Files lists the slash-separated paths written, document last.
	Files []string

	once   sync.Once
	logger logging.Logger
}

// Abort removes the staging directory. It is safe to call more than once
// and after a successful publish.
func (s *Staging) Abort() {
	s.once.Do(func() {
		if err := os.RemoveAll(s.Dir); err != nil {
			s.logger.Warn(context.Background(), err, "Failed to remove staging directory", "staging", s.Dir)
			return
		}
		s.logger.Debug(context.Background(), "Removed staging directory", "staging", s.Dir)
	})
}

// Assemble writes every non-inline artifact and the rewritten document into
// the staging directory of generation gen.
//
// Each directive's span in the document is replaced with markup referencing
// its artifacts by final name; all other bytes are copied unchanged. A
// directive without artifacts is an AssemblyError. ctx is checked after
// every write, and on cancellation or failure the partial staging tree is
// removed before returning.
func (a *Assembler) Assemble(
	ctx context.Context,
	doc *manifest.Document,
	directives []manifest.Directive,
	outputs map[int]pipeline.Output,
	gen uint64,
) (*Staging, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkOutputs(directives, outputs); err != nil {
		return nil, err
	}

	staging := &Staging{
		Generation: gen,
		Dir:        a.StagingDir(gen),
		logger:     a.logger.With("generation", gen),
	}
	if err := os.RemoveAll(staging.Dir); err != nil {
		return nil, errors.NewAssemblyError("failed to clear staging directory", err)
	}
	if err := os.MkdirAll(staging.Dir, 0o755); err != nil {
		return nil, errors.NewAssemblyError("failed to create staging directory", err)
	}

	if err := a.writeArtifacts(ctx, staging, directives, outputs); err != nil {
		staging.Abort()
		return nil, err
	}

	rendered, err := a.Render(doc, directives, outputs)
	if err != nil {
		staging.Abort()
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging.Dir, DocumentName), rendered, 0o644); err != nil {
		staging.Abort()
		return nil, errors.NewAssemblyError("failed to write document", err)
	}
	staging.Files = append(staging.Files, DocumentName)
	if err := ctx.Err(); err != nil {
		staging.Abort()
		return nil, err
	}

	a.logger.Debug(ctx, "Staging complete",
		"generation", gen,
		"staging", staging.Dir,
		"files", len(staging.Files))
	return staging, nil
}

// Render rewrites the document, replacing directive spans with generated
// markup and leaving all other bytes untouched.
func (a *Assembler) Render(doc *manifest.Document, directives []manifest.Directive, outputs map[int]pipeline.Output) ([]byte, error) {
	if err := checkOutputs(directives, outputs); err != nil {
		return nil, err
	}

	ordered := make([]manifest.Directive, len(directives))
	copy(ordered, directives)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var buf bytes.Buffer
	buf.Grow(len(doc.Source))
	last := 0
	for _, d := range ordered {
		if d.Start < last || d.End > len(doc.Source) || d.End < d.Start {
			return nil, errors.NewAssemblyError(
				fmt.Sprintf("directive %s has an invalid span [%d,%d)", d.Name(), d.Start, d.End), nil)
		}
		buf.Write(doc.Source[last:d.Start])
		buf.WriteString(renderDirective(d, outputs[d.Index].Artifacts, a.publicURL))
		last = d.End
	}
	buf.Write(doc.Source[last:])

	return buf.Bytes(), nil
}

func checkOutputs(directives []manifest.Directive, outputs map[int]pipeline.Output) error {
	for _, d := range directives {
		out, ok := outputs[d.Index]
		if !ok || len(out.Artifacts) == 0 {
			return errors.NewAssemblyError(fmt.Sprintf("directive %s produced no artifacts", d.Name()), nil).
				WithSource(d.Name())
		}
	}
	return nil
}

func (a *Assembler) writeArtifacts(
	ctx context.Context,
	staging *Staging,
	directives []manifest.Directive,
	outputs map[int]pipeline.Output,
) error {
	// owners maps each output path to the directive writing it; two
	// artifacts never share a path.
	owners := map[string]string{DocumentName: "the document"}
	for _, d := range directives {
		for _, artifact := range outputs[d.Index].Artifacts {
			if artifact.Inline {
				continue
			}

			rel := artifact.RelPath()
			if err := validation.ValidateTargetPath(rel); err != nil {
				return errors.NewAssemblyError(fmt.Sprintf("artifact path %q is not allowed", rel), err).
					WithSource(d.Name())
			}
			if owner, ok := owners[rel]; ok {
				return errors.NewAssemblyError(
					fmt.Sprintf("%s and %s both write %s", owner, d.Name(), rel), nil).WithSource(d.Name())
			}
			owners[rel] = d.Name()
			dst := filepath.Join(staging.Dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return errors.NewAssemblyError("failed to create artifact directory", err).WithSource(d.Name())
			}

			var err error
			switch {
			case artifact.Content != nil:
				err = os.WriteFile(dst, artifact.Content, 0o644)
			case artifact.IsDir:
				err = pipeline.CopyTree(ctx, artifact.SourcePath, dst)
			case artifact.SourcePath != "":
				err = pipeline.CopyFile(artifact.SourcePath, dst)
			default:
				err = fmt.Errorf("artifact has neither content nor source")
			}
			if err != nil {
				if errors.IsCanceled(err) {
					return err
				}
				return errors.NewAssemblyError(fmt.Sprintf("failed to write %s", rel), err).WithSource(d.Name())
			}
			staging.Files = append(staging.Files, rel)

			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Publish swaps the staging tree into the output root. Publishes are
// serialized, a cancelled ctx aborts the staging instead, and a generation
// older than the one already published is refused.
func (a *Assembler) Publish(ctx context.Context, staging *Staging) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		staging.Abort()
		return err
	}
	if staging.Generation <= a.published {
		staging.Abort()
		return errors.NewAssemblyError(
			fmt.Sprintf("generation %d is older than published generation %d", staging.Generation, a.published), nil)
	}

	previous, err := swapIn(staging.Dir, a.dist)
	if err != nil {
		staging.Abort()
		return errors.NewAssemblyError("failed to publish output", err)
	}
	a.published = staging.Generation

	// The new tree is live whatever happens to the old one; leftovers are
	// removed by the next Sweep.
	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			a.logger.Warn(ctx, err, "Failed to remove previous output", "path", previous)
		}
	}

	a.logger.Info(ctx, "Published output", "generation", staging.Generation, "output", a.dist)
	return nil
}

// Sweep removes staging and scratch directories left behind by earlier
// processes, along with a stale previous-output backup.
func (a *Assembler) Sweep() error {
	parent, base := filepath.Split(a.dist)
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewAssemblyError("failed to list staging directories", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, base+stageInfix) && name != base+prevSuffix {
			continue
		}
		path := filepath.Join(parent, name)
		if err := os.RemoveAll(path); err != nil {
			return errors.NewAssemblyError("failed to remove stale output", err).WithLocation(path, 0, 0)
		}
		a.logger.Debug(context.Background(), "Removed stale output", "path", path)
	}
	return nil
}

// Clean removes the output root and every staging sibling.
func (a *Assembler) Clean() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.Sweep(); err != nil {
		return err
	}
	if err := os.RemoveAll(a.dist); err != nil {
		return errors.NewAssemblyError("failed to remove output directory", err).WithLocation(a.dist, 0, 0)
	}
	a.published = 0
	return nil
}
