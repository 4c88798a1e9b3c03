package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// ContentHash returns the 16 hex digit xxhash64 of parts. Each part is
// length-prefixed, so moving bytes between parts changes the hash.
func ContentHash(parts ...[]byte) string {
	d := xxhash.New()
	var size [8]byte
	for _, part := range parts {
		binary.LittleEndian.PutUint64(size[:], uint64(len(part)))
		_, _ = d.Write(size[:])
		_, _ = d.Write(part)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// HashFile hashes a file's content exactly as ContentHash would hash it as a
// single part, without holding the file in memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	d := xxhash.New()
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(info.Size()))
	_, _ = d.Write(size[:])
	if _, err := io.Copy(d, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// HashDir hashes a directory tree: every regular file's slash-separated
// relative path and content, in lexical order.
func HashDir(root string) (string, error) {
	d := xxhash.New()
	var size [8]byte
	write := func(b []byte) {
		binary.LittleEndian.PutUint64(size[:], uint64(len(b)))
		_, _ = d.Write(size[:])
		_, _ = d.Write(b)
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		write([]byte(filepath.ToSlash(rel)))
		write(content)
		return nil
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// HashedName builds <base>-<hash>.<ext>. The base is NFC normalised so the
// same source name always yields the same bytes on disk.
func HashedName(base, hash, ext string) string {
	base = norm.NFC.String(base)
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return base + "-" + hash
	}
	return fmt.Sprintf("%s-%s.%s", base, hash, ext)
}

// SplitName splits a file name into its base and extension, without dot.
func SplitName(name string) (base, ext string) {
	name = filepath.Base(name)
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), strings.TrimPrefix(ext, ".")
}
