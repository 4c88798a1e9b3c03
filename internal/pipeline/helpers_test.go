package pipeline

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tramline/internal/manifest"
)

// writeScript installs an executable shell script standing in for an
// external tool.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain scripts need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// configsFor parses html from dir/index.html and resolves its directives.
func configsFor(t *testing.T, dir, html string, opts Options) []*Config {
	t.Helper()
	path := filepath.Join(dir, "index.html")
	writeFile(t, path, html)

	directives, doc, err := manifest.ParseFile(path)
	require.NoError(t, err)
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	}
	return Resolve(doc, directives, opts)
}

const fakeSass = `for arg; do in="$out"; out="$arg"; done
if grep -q BROKEN "$in"; then
  echo 'Error: expected "{".' >&2
  echo "  $in 2:7  root stylesheet" >&2
  exit 65
fi
cp "$in" "$out"
`

const fakeCargo = `profile=debug
while [ $# -gt 0 ]; do
  case "$1" in
    --target-dir) target="$2"; shift;;
    --release) profile=release;;
  esac
  shift
done
mkdir -p "$target/wasm32-unknown-unknown/$profile"
printf 'wasm-bytes' > "$target/wasm32-unknown-unknown/$profile/my_app.wasm"
`

const fakeBindgen = `while [ $# -gt 0 ]; do
  case "$1" in
    --out-dir) out="$2"; shift;;
    --out-name) name="$2"; shift;;
    --target) shift;;
    --*) ;;
    *) wasm="$1";;
  esac
  shift
done
printf 'export default function init() {}' > "$out/$name.js"
cp "$wasm" "$out/${name}_bg.wasm"
`
