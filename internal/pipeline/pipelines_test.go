package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/manifest"
)

func execute(t *testing.T, cfg *Config) ([]Artifact, error) {
	t.Helper()
	p, err := NewRegistry().Lookup(cfg.Directive.Kind)
	require.NoError(t, err)
	if err := p.Validate(cfg); err != nil {
		return nil, err
	}
	return p.Execute(context.Background(), cfg)
}

func TestRegistryCoversEveryKind(t *testing.T) {
	registry := NewRegistry()
	for _, kind := range manifest.Kinds {
		p, err := registry.Lookup(kind)
		require.NoError(t, err, kind.String())
		assert.Equal(t, kind, p.Kind())
	}

	_, err := registry.Lookup(manifest.Kind(99))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	configs := configsFor(t, dir, `<link data-trunk rel="css" href="css/site.css" data-target-path="static/./">`,
		Options{Release: true, PublicURL: "/app", ScratchDir: "/tmp/gen-1"})
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.Equal(t, filepath.Join(dir, "css", "site.css"), cfg.Source)
	assert.Equal(t, "static", cfg.TargetPath)
	assert.Equal(t, "/app/", cfg.PublicURL)
	assert.Equal(t, "release", cfg.Profile())
	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, filepath.Join("/tmp/gen-1", "0-css"), cfg.ScratchDir)
}

func TestCSSPipelineTenByteStylesheet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "style.css"), "a{color:0}")

	cfg := configsFor(t, dir, `<link data-trunk rel="css" href="style.css">`, Options{})[0]
	first, err := execute(t, cfg)
	require.NoError(t, err)
	require.Len(t, first, 1)

	artifact := first[0]
	assert.Equal(t, RoleStylesheet, artifact.Role)
	assert.Equal(t, "text/css", artifact.MIMEType)
	assert.Regexp(t, `^style-[0-9a-f]{16}\.css$`, artifact.FileName)
	assert.Equal(t, "style-"+artifact.Hash+".css", artifact.FileName)
	assert.Equal(t, []byte("a{color:0}"), artifact.Content)
	assert.False(t, artifact.Inline)

	writeFile(t, filepath.Join(dir, "style.css"), "a{color:1}")
	second, err := execute(t, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, artifact.FileName, second[0].FileName)
	assert.True(t, strings.HasPrefix(second[0].FileName, "style-"))
}

func TestIdenticalSourcesShareHashSegment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.css"), "body{}")
	writeFile(t, filepath.Join(dir, "b.css"), "body{}")

	configs := configsFor(t, dir, `<link data-trunk rel="css" href="a.css"><link data-trunk rel="css" href="b.css">`, Options{})
	a, err := execute(t, configs[0])
	require.NoError(t, err)
	b, err := execute(t, configs[1])
	require.NoError(t, err)

	assert.Equal(t, a[0].Hash, b[0].Hash)
	assert.NotEqual(t, a[0].FileName, b[0].FileName)
	assert.True(t, strings.HasPrefix(a[0].FileName, "a-"))
	assert.True(t, strings.HasPrefix(b[0].FileName, "b-"))
}

func TestCSSPipelineDataInline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "critical.css"), "h1{margin:0}")

	cfg := configsFor(t, dir, `<link data-trunk rel="css" href="critical.css" data-inline media="screen">`, Options{})[0]
	artifacts, err := execute(t, cfg)
	require.NoError(t, err)
	assert.True(t, artifacts[0].Inline)
	assert.Equal(t, "screen", artifacts[0].Attrs["media"])
}

func TestMissingSourceIsIOError(t *testing.T) {
	dir := t.TempDir()
	cfg := configsFor(t, dir, `<link data-trunk rel="css" href="missing.css">`, Options{})[0]

	_, err := execute(t, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorIO))

	var te *errors.TramlineError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "css:missing.css", te.Source)
	assert.Equal(t, filepath.Join(dir, "missing.css"), te.FilePath)
}

func TestInlinePipeline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "theme.css"), ":root{--c:red}")
	writeFile(t, filepath.Join(dir, "boot.js"), "console.log('boot')")

	configs := configsFor(t, dir, `
<script data-trunk type="module">import "./x.js";</script>
<link data-trunk rel="inline" href="theme.css">
<script data-trunk src="boot.js"></script>
<link data-trunk rel="inline" href="data.json">`, Options{})
	require.Len(t, configs, 4)

	body, err := execute(t, configs[0])
	require.NoError(t, err)
	assert.True(t, body[0].Inline)
	assert.Equal(t, RoleScript, body[0].Role)
	assert.Equal(t, `import "./x.js";`, string(body[0].Content))
	assert.Equal(t, "module", body[0].Attrs["type"])

	css, err := execute(t, configs[1])
	require.NoError(t, err)
	assert.Equal(t, RoleStylesheet, css[0].Role)
	assert.Equal(t, ":root{--c:red}", string(css[0].Content))

	script, err := execute(t, configs[2])
	require.NoError(t, err)
	assert.Equal(t, RoleScript, script[0].Role)
	assert.Equal(t, "console.log('boot')", string(script[0].Content))

	_, err = execute(t, configs[3])
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestIconPipeline(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "favicon.png"), "png")

	cfg := configsFor(t, dir, `<link data-trunk rel="icon" href="favicon.png" sizes="32x32">`, Options{})[0]
	artifacts, err := execute(t, cfg)
	require.NoError(t, err)

	assert.Equal(t, RoleIcon, artifacts[0].Role)
	assert.Equal(t, "image/png", artifacts[0].MIMEType)
	assert.Equal(t, "favicon-"+artifacts[0].Hash+".png", artifacts[0].FileName)
	assert.Equal(t, "32x32", artifacts[0].Attrs["sizes"])
}

func TestCopyPipelinesKeepNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "robots.txt"), "User-agent: *")
	writeFile(t, filepath.Join(dir, "assets", "img", "logo.svg"), "<svg/>")

	configs := configsFor(t, dir, `
<link data-trunk rel="copy-file" href="robots.txt">
<link data-trunk rel="copy-dir" href="assets" data-target-path="static">`, Options{})

	file, err := execute(t, configs[0])
	require.NoError(t, err)
	assert.Equal(t, "robots.txt", file[0].FileName)
	assert.Equal(t, ContentHash([]byte("User-agent: *")), file[0].Hash)
	assert.Equal(t, filepath.Join(configs[0].ScratchDir, "robots.txt"), file[0].SourcePath)
	assert.Nil(t, file[0].Content)

	tree, err := execute(t, configs[1])
	require.NoError(t, err)
	assert.True(t, tree[0].IsDir)
	assert.Equal(t, "assets", tree[0].FileName)
	assert.Equal(t, "static/assets", tree[0].RelPath())
	assert.Regexp(t, hexHash, tree[0].Hash)
}

func TestCopyPipelinesPublishTheBytesTheyHashed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "robots.txt"), "User-agent: *")
	writeFile(t, filepath.Join(dir, "assets", "a.txt"), "one")

	configs := configsFor(t, dir, `
<link data-trunk rel="copy-file" href="robots.txt">
<link data-trunk rel="copy-dir" href="assets">`, Options{})

	file, err := execute(t, configs[0])
	require.NoError(t, err)
	tree, err := execute(t, configs[1])
	require.NoError(t, err)

	// Sources edited after the pipelines ran must not leak into the bundle.
	writeFile(t, filepath.Join(dir, "robots.txt"), "Disallow: /")
	writeFile(t, filepath.Join(dir, "assets", "a.txt"), "two")

	content, err := os.ReadFile(file[0].SourcePath)
	require.NoError(t, err)
	assert.Equal(t, "User-agent: *", string(content))
	assert.Equal(t, ContentHash(content), file[0].Hash)

	content, err = os.ReadFile(filepath.Join(tree[0].SourcePath, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))
	hash, err := HashDir(tree[0].SourcePath)
	require.NoError(t, err)
	assert.Equal(t, hash, tree[0].Hash)
}

func TestCopyPipelinesRejectWrongSourceType(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "a.txt"), "a")

	configs := configsFor(t, dir, `
<link data-trunk rel="copy-file" href="assets">
<link data-trunk rel="copy-dir" href="assets/a.txt">`, Options{})

	for _, cfg := range configs {
		_, err := execute(t, cfg)
		assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorIO), cfg.Name())
	}
}

func TestStylesheetPipeline(t *testing.T) {
	dir := t.TempDir()
	sass := writeScript(t, t.TempDir(), "sass", fakeSass)
	writeFile(t, filepath.Join(dir, "style.scss"), "$c: red;\nbody { color: $c; }")

	cfg := configsFor(t, dir, `<link data-trunk rel="scss" href="style.scss">`,
		Options{Toolchain: Toolchain{Sass: sass}})[0]
	artifacts, err := execute(t, cfg)
	require.NoError(t, err)

	require.Len(t, artifacts, 1)
	assert.Regexp(t, `^style-[0-9a-f]{16}\.css$`, artifacts[0].FileName)
	assert.Equal(t, "$c: red;\nbody { color: $c; }", string(artifacts[0].Content))
}

func TestStylesheetPipelineCompileError(t *testing.T) {
	dir := t.TempDir()
	sass := writeScript(t, t.TempDir(), "sass", fakeSass)
	writeFile(t, filepath.Join(dir, "broken.scss"), "body {\n  BROKEN")

	cfg := configsFor(t, dir, `<link data-trunk rel="scss" href="broken.scss">`,
		Options{Toolchain: Toolchain{Sass: sass}})[0]
	_, err := execute(t, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorCompile))

	var te *errors.TramlineError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Output, `expected "{"`)
	assert.Equal(t, filepath.Join(dir, "broken.scss"), te.FilePath)
	assert.Equal(t, 2, te.Line)
	assert.Equal(t, 7, te.Column)
}

func TestStylesheetPipelineRequiresCompiler(t *testing.T) {
	dir := t.TempDir()
	cfg := configsFor(t, dir, `<link data-trunk rel="scss" href="a.scss">`, Options{})[0]

	_, err := execute(t, cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestApplicationPipeline(t *testing.T) {
	dir := t.TempDir()
	tools := t.TempDir()
	cargo := writeScript(t, tools, "cargo", fakeCargo)
	bindgen := writeScript(t, tools, "wasm-bindgen", fakeBindgen)
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname = \"my-app\"\nversion = \"0.1.0\"\n")

	cfg := configsFor(t, dir, `<link data-trunk rel="rust">`, Options{
		Release:   true,
		Toolchain: Toolchain{Cargo: cargo, Bindgen: bindgen, TargetDir: "target"},
	})[0]

	artifacts, err := execute(t, cfg)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	js, wasm := artifacts[0], artifacts[1]
	assert.Equal(t, js.Hash, wasm.Hash)
	assert.Equal(t, "my-app-"+js.Hash+".js", js.FileName)
	assert.Equal(t, "my-app_bg-"+js.Hash+".wasm", wasm.FileName)
	assert.Equal(t, RoleScript, js.Role)
	assert.Equal(t, RoleWasm, wasm.Role)
	assert.Equal(t, "application/wasm", wasm.MIMEType)
	assert.Equal(t, []byte("wasm-bytes"), wasm.Content)
	assert.Equal(t, ContentHash(js.Content, wasm.Content), js.Hash)

	_, err = os.Stat(filepath.Join(dir, "target", WasmTarget, "release", "my_app.wasm"))
	assert.NoError(t, err)
}

func TestApplicationPipelineBuildError(t *testing.T) {
	dir := t.TempDir()
	tools := t.TempDir()
	cargo := writeScript(t, tools, "cargo", `echo 'error[E0425]: cannot find value x in this scope' >&2
echo '  --> src/main.rs:3:5' >&2
exit 101
`)
	bindgen := writeScript(t, tools, "wasm-bindgen", fakeBindgen)
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname = \"my-app\"\n")

	cfg := configsFor(t, dir, `<link data-trunk rel="rust" href="Cargo.toml">`, Options{
		Toolchain: Toolchain{Cargo: cargo, Bindgen: bindgen},
	})[0]

	_, err := execute(t, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorBuild))

	var te *errors.TramlineError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Output, "cannot find value x")
	assert.Equal(t, "src/main.rs", te.FilePath)
	assert.Equal(t, 3, te.Line)
}

func TestApplicationPipelineBindgenError(t *testing.T) {
	dir := t.TempDir()
	tools := t.TempDir()
	cargo := writeScript(t, tools, "cargo", fakeCargo)
	bindgen := writeScript(t, tools, "wasm-bindgen", "echo 'error: unsupported schema version' >&2\nexit 1\n")
	writeFile(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname = \"my-app\"\n")

	cfg := configsFor(t, dir, `<link data-trunk rel="rust">`, Options{
		Toolchain: Toolchain{Cargo: cargo, Bindgen: bindgen},
	})[0]

	_, err := execute(t, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorBindgen))
}

func TestApplicationNameSources(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "Cargo.toml")
	writeFile(t, manifestPath, "[package]\nname = \"from-manifest\"\n")

	configs := configsFor(t, dir, `<link data-trunk rel="rust" data-bin="viewer">`, Options{})
	name, err := applicationName(configs[0], manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "viewer", name)

	cfg := &Config{Toolchain: Toolchain{AppName: "configured"}}
	name, err = applicationName(cfg, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "configured", name)

	name, err = applicationName(&Config{}, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "from-manifest", name)

	writeFile(t, manifestPath, "[workspace]\nmembers = []\n")
	_, err = applicationName(&Config{}, manifestPath)
	assert.True(t, errors.IsPipelineError(err, errors.PipelineErrorBuild))
}
