package pipeline

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
)

// IconPipeline publishes a favicon under a hashed name.
type IconPipeline struct{}

func (p *IconPipeline) Kind() manifest.Kind { return manifest.KindIcon }

func (p *IconPipeline) Validate(cfg *Config) error {
	return requireSource(cfg, "icon")
}

func (p *IconPipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	content, err := os.ReadFile(cfg.Source)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read icon", err).
			WithLocation(cfg.Source, 0, 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, ext := SplitName(cfg.Source)
	hash := ContentHash(content)
	return []Artifact{{
		Role:       RoleIcon,
		FileName:   HashedName(base, hash, ext),
		TargetPath: cfg.TargetPath,
		Hash:       hash,
		MIMEType:   mimeType(cfg.Source),
		Content:    content,
		Attrs:      passthroughAttrs(cfg.Directive, "sizes", "type"),
	}}, nil
}

// CopyFilePipeline copies a file into the bundle under its original name;
// other documents may link to it by that name. The file is snapshotted into
// scratch space and the snapshot is hashed, so the recorded hash always
// matches the published bytes.
type CopyFilePipeline struct{}

func (p *CopyFilePipeline) Kind() manifest.Kind { return manifest.KindCopyFile }

func (p *CopyFilePipeline) Validate(cfg *Config) error {
	return requireSource(cfg, "copy-file")
}

func (p *CopyFilePipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	info, err := os.Stat(cfg.Source)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "file to copy not found", err).
			WithLocation(cfg.Source, 0, 0)
	}
	if info.IsDir() {
		return nil, errors.NewIOError(cfg.Name(), "copy-file source is a directory", nil).
			WithLocation(cfg.Source, 0, 0)
	}

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to create scratch directory", err)
	}
	snapshot := filepath.Join(cfg.ScratchDir, filepath.Base(cfg.Source))
	if err := CopyFile(cfg.Source, snapshot); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read file to copy", err).
			WithLocation(cfg.Source, 0, 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := HashFile(snapshot)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to hash copied file", err)
	}

	return []Artifact{{
		Role:       RoleFile,
		FileName:   filepath.Base(cfg.Source),
		TargetPath: cfg.TargetPath,
		Hash:       hash,
		MIMEType:   mimeType(cfg.Source),
		SourcePath: snapshot,
	}}, nil
}

// CopyDirPipeline copies a directory tree into the bundle under its
// original name, snapshotting it into scratch space first.
type CopyDirPipeline struct{}

func (p *CopyDirPipeline) Kind() manifest.Kind { return manifest.KindCopyDir }

func (p *CopyDirPipeline) Validate(cfg *Config) error {
	return requireSource(cfg, "copy-dir")
}

func (p *CopyDirPipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	info, err := os.Stat(cfg.Source)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "directory to copy not found", err).
			WithLocation(cfg.Source, 0, 0)
	}
	if !info.IsDir() {
		return nil, errors.NewIOError(cfg.Name(), "copy-dir source is not a directory", nil).
			WithLocation(cfg.Source, 0, 0)
	}

	name := filepath.Base(filepath.Clean(cfg.Source))
	snapshot := filepath.Join(cfg.ScratchDir, name)
	if err := CopyTree(ctx, cfg.Source, snapshot); err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		return nil, errors.NewIOError(cfg.Name(), "failed to read directory to copy", err).
			WithLocation(cfg.Source, 0, 0)
	}

	hash, err := HashDir(snapshot)
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to hash copied directory", err)
	}

	return []Artifact{{
		Role:       RoleDir,
		FileName:   name,
		TargetPath: cfg.TargetPath,
		Hash:       hash,
		SourcePath: snapshot,
		IsDir:      true,
	}}, nil
}

func requireSource(cfg *Config, kind string) error {
	if cfg.Source == "" {
		return errors.NewValidationError(kind + " directive requires href").WithSource(cfg.Name())
	}
	if cfg.ScratchDir == "" {
		return errors.NewValidationError(kind + " pipeline requires a scratch directory").WithSource(cfg.Name())
	}
	return nil
}

func mimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// CopyFile copies a regular file, keeping its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree copies the directories and regular files under src to dst.
// Symlinks and special files are skipped. ctx is checked between entries.
func CopyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o755)
		case entry.Type().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}
