// Package validation provides security validation functions for preventing
// command injection, path traversal, and other security vulnerabilities.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// shellMeta are characters with meaning to a shell. Toolchain commands are
// executed directly, so these never have a legitimate use in them.
var shellMeta = []string{";", "&", "|", "$", "`", "(", ")", "<", ">"}

// ValidateArgument validates a subprocess argument. Arguments are passed to
// the process directly, never through a shell, so absolute paths and
// parent references are fine; control characters are not.
func ValidateArgument(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("contains NUL byte")
	}

	for _, char := range []string{"\n", "\r"} {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains line break")
		}
	}

	return nil
}

// ValidateCommand validates a toolchain command name or path.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command cannot be empty")
	}

	for _, char := range shellMeta {
		if strings.Contains(command, char) {
			return fmt.Errorf("command contains dangerous character: %s", char)
		}
	}

	return ValidateArgument(command)
}

// ValidateTargetPath validates a relative path inside the output directory,
// as named by a directive's data-target-path.
func ValidateTargetPath(path string) error {
	if path == "" {
		return nil
	}

	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("target path %q must be relative", path)
	}

	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("target path %q escapes the output directory", path)
	}

	for _, char := range shellMeta {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateSourcePath validates a directive's href: a path relative to the
// template's directory that stays inside it.
func ValidateSourcePath(path string) error {
	if path == "" {
		return nil
	}

	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("source path contains NUL byte")
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("source path %q must be relative", path)
	}

	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("source path %q escapes the project directory", path)
	}

	return nil
}

// ValidateOrigin validates WebSocket origin for CSRF protection. An absent
// origin (non-browser clients) is accepted.
func ValidateOrigin(origin string, allowedHosts []string) error {
	if origin == "" {
		return nil
	}

	// Parse the origin URL
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	// Only allow http/https schemes
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	// Check against allowed origins list
	for _, allowed := range allowedHosts {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// SanitizeInput removes control characters from text that is echoed to
// browsers, such as compiler output in error notices.
func SanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters except common whitespace
	var sanitized strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}

	return sanitized.String()
}
