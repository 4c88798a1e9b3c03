package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
	"github.com/conneroisu/tramline/internal/validation"
)

// WasmTarget is the compiler target triple for browser modules.
const WasmTarget = "wasm32-unknown-unknown"

// ApplicationPipeline compiles the source application to WebAssembly and
// generates its JavaScript bindings.
//
// It runs two external tools in sequence:
//
//	cargo build --target wasm32-unknown-unknown --manifest-path <m> --target-dir <t> [--release] [--bin <b>] [--features <f>]
//	wasm-bindgen --target web --no-typescript --out-dir <scratch> --out-name <name> <wasm>
//
// The glue script and the module share one hash computed over both, so a
// change to either invalidates both names.
type ApplicationPipeline struct{}

func (p *ApplicationPipeline) Kind() manifest.Kind { return manifest.KindApplication }

func (p *ApplicationPipeline) Validate(cfg *Config) error {
	if err := validation.ValidateCommand(cfg.Toolchain.Cargo); err != nil {
		return errors.NewValidationError(fmt.Sprintf("compiler command: %v", err)).WithSource(cfg.Name())
	}
	if err := validation.ValidateCommand(cfg.Toolchain.Bindgen); err != nil {
		return errors.NewValidationError(fmt.Sprintf("binding generator command: %v", err)).WithSource(cfg.Name())
	}
	if cfg.ScratchDir == "" {
		return errors.NewValidationError("application pipeline requires a scratch directory").WithSource(cfg.Name())
	}
	return nil
}

func (p *ApplicationPipeline) Execute(ctx context.Context, cfg *Config) ([]Artifact, error) {
	manifestPath := p.manifestPath(cfg)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "application manifest not found", err).
			WithLocation(manifestPath, 0, 0)
	}
	projectDir := filepath.Dir(manifestPath)

	name, err := applicationName(cfg, manifestPath)
	if err != nil {
		return nil, err
	}

	targetDir := cfg.Toolchain.TargetDir
	if targetDir == "" {
		targetDir = "target"
	}
	if !filepath.IsAbs(targetDir) {
		targetDir = filepath.Join(projectDir, targetDir)
	}

	args := []string{
		"build",
		"--target", WasmTarget,
		"--manifest-path", manifestPath,
		"--target-dir", targetDir,
	}
	if cfg.Release {
		args = append(args, "--release")
	}
	bin, hasBin := cfg.Directive.Attr("data-bin")
	if hasBin && bin != "" {
		args = append(args, "--bin", bin)
	}
	if features, ok := cfg.Directive.Attr("data-cargo-features"); ok && features != "" {
		args = append(args, "--features", features)
	}
	if cfg.Directive.HasAttr("data-cargo-no-default-features") {
		args = append(args, "--no-default-features")
	}

	compile := Command{Name: cfg.Toolchain.Cargo, Args: args, Dir: projectDir}
	proc, err := RunProcess(ctx, compile)
	if err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		buildErr := errors.NewBuildError(cfg.Name(), "application build failed", err)
		if proc != nil {
			buildErr.WithOutput(proc.Diagnostics())
		}
		return nil, buildErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wasmPath := filepath.Join(targetDir, WasmTarget, cfg.Profile(), strings.ReplaceAll(name, "-", "_")+".wasm")
	if _, err := os.Stat(wasmPath); err != nil {
		return nil, errors.NewBuildError(cfg.Name(), "compiler did not produce the expected module", err).
			WithLocation(wasmPath, 0, 0)
	}

	outDir := filepath.Join(cfg.ScratchDir, "bindgen")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to create binding output directory", err)
	}

	bindgen := Command{
		Name: cfg.Toolchain.Bindgen,
		Args: []string{
			"--target", "web",
			"--no-typescript",
			"--out-dir", outDir,
			"--out-name", name,
			wasmPath,
		},
		Dir: projectDir,
	}
	proc, err = RunProcess(ctx, bindgen)
	if err != nil {
		if errors.IsCanceled(err) {
			return nil, err
		}
		bindErr := errors.NewBindgenError(cfg.Name(), "binding generation failed", err)
		if proc != nil {
			bindErr.WithOutput(proc.Diagnostics())
		}
		return nil, bindErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	js, err := os.ReadFile(filepath.Join(outDir, name+".js"))
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read generated bindings", err)
	}
	wasm, err := os.ReadFile(filepath.Join(outDir, name+"_bg.wasm"))
	if err != nil {
		return nil, errors.NewIOError(cfg.Name(), "failed to read generated module", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ContentHash(js, wasm)
	return []Artifact{
		{
			Role:       RoleScript,
			FileName:   HashedName(name, hash, "js"),
			TargetPath: cfg.TargetPath,
			Hash:       hash,
			MIMEType:   "text/javascript",
			Content:    js,
		},
		{
			Role:       RoleWasm,
			FileName:   HashedName(name+"_bg", hash, "wasm"),
			TargetPath: cfg.TargetPath,
			Hash:       hash,
			MIMEType:   "application/wasm",
			Content:    wasm,
		},
	}, nil
}

func (p *ApplicationPipeline) manifestPath(cfg *Config) string {
	source := cfg.Source
	if source == "" {
		return filepath.Join(cfg.WorkDir, "Cargo.toml")
	}
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return filepath.Join(source, "Cargo.toml")
	}
	return source
}

// cargoManifest is the part of Cargo.toml the pipeline reads.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// applicationName picks the output name: the selected binary, the
// configured application name, or the package name from the manifest.
func applicationName(cfg *Config, manifestPath string) (string, error) {
	if bin, ok := cfg.Directive.Attr("data-bin"); ok && bin != "" {
		return bin, nil
	}
	if cfg.Toolchain.AppName != "" {
		return cfg.Toolchain.AppName, nil
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", errors.NewIOError(cfg.Name(), "failed to read application manifest", err)
	}
	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return "", errors.NewBuildError(cfg.Name(), "invalid application manifest", err).
			WithLocation(manifestPath, 0, 0)
	}
	if m.Package.Name == "" {
		return "", errors.NewBuildError(cfg.Name(), "application manifest has no package name", nil).
			WithLocation(manifestPath, 0, 0)
	}
	return m.Package.Name, nil
}
