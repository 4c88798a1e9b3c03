package pipeline

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestContentHashIsDeterministic(t *testing.T) {
	a := ContentHash([]byte("body { color: red; }"))
	b := ContentHash([]byte("body { color: red; }"))

	assert.Equal(t, a, b)
	assert.Regexp(t, hexHash, a)
	assert.NotEqual(t, a, ContentHash([]byte("body { color: rod; }")))
}

func TestContentHashSeparatesParts(t *testing.T) {
	assert.NotEqual(t,
		ContentHash([]byte("ab"), []byte("c")),
		ContentHash([]byte("a"), []byte("bc")))
}

func TestHashFileMatchesContentHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, ContentHash([]byte("png-bytes")), hash)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestHashDirCoversNamesAndContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "one")
	writeFile(t, filepath.Join(root, "nested", "b.txt"), "two")

	first, err := HashDir(root)
	require.NoError(t, err)
	again, err := HashDir(root)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "c.txt")))
	renamed, err := HashDir(root)
	require.NoError(t, err)
	assert.NotEqual(t, first, renamed)
}

func TestHashedName(t *testing.T) {
	assert.Equal(t, "style-0123456789abcdef.css", HashedName("style", "0123456789abcdef", "css"))
	assert.Equal(t, "style-0123456789abcdef.css", HashedName("style", "0123456789abcdef", ".css"))
	assert.Equal(t, "LICENSE-0123456789abcdef", HashedName("LICENSE", "0123456789abcdef", ""))

	// Decomposed and precomposed forms produce the same name.
	assert.Equal(t,
		HashedName("caf\u00e9", "0123456789abcdef", "css"),
		HashedName("cafe\u0301", "0123456789abcdef", "css"))
}

func TestSplitName(t *testing.T) {
	base, ext := SplitName("styles/main.scss")
	assert.Equal(t, "main", base)
	assert.Equal(t, "scss", ext)

	base, ext = SplitName("Makefile")
	assert.Equal(t, "Makefile", base)
	assert.Empty(t, ext)
}
