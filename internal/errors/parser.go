// Package errors provides the build error taxonomy and diagnostic parsing
// for development-friendly error reporting.
//
// External compilers report problems on their error stream in a handful of
// shapes. The parser extracts file paths, line numbers and messages from
// rustc/cargo, sass and generic "file:line:col: message" output so that a
// failed generation can be surfaced as a structured list of diagnostics,
// while the verbatim tool output stays attached to the originating error.
package errors

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one surfaced problem: where it came from, what the tool said
// and, when known, the position in the offending file.
type Diagnostic struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

type diagnosticPattern struct {
	regex *regexp.Regexp
	// location reports whether the match only carries a position that belongs
	// to the message on a preceding line.
	location bool
	fields   func(matches []string) (file string, line, column int, message string)
}

var (
	// error[E0425]: cannot find value `x` in this scope
	rustHeader = regexp.MustCompile(`^(error|warning)(\[[A-Z0-9]+\])?: (.+)$`)
	// Error: expected "{".
	sassHeader = regexp.MustCompile(`^Error: (.+)$`)

	diagnosticPatterns = []diagnosticPattern{
		{
			//   --> src/main.rs:3:5
			regex:    regexp.MustCompile(`^-->\s+(.+?):(\d+):(\d+)$`),
			location: true,
			fields:   fileLineColumn,
		},
		{
			//   style.scss 3:5  root stylesheet
			regex:    regexp.MustCompile(`^(\S+\.(?:scss|sass|css)) (\d+):(\d+)\s+.*$`),
			location: true,
			fields:   fileLineColumn,
		},
		{
			// src/lib.rs:10:4: message
			regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (.+)$`),
			fields: func(m []string) (string, int, int, string) {
				file, line, column, _ := fileLineColumn(m)
				return file, line, column, m[4]
			},
		},
	}
)

func fileLineColumn(m []string) (string, int, int, string) {
	line, _ := strconv.Atoi(m[2])
	column, _ := strconv.Atoi(m[3])
	return m[1], line, column, ""
}

// ParseDiagnostics extracts structured diagnostics from a tool's output.
// Lines that only carry a location are merged into the message announced by
// the closest preceding header line. When nothing matches, the whole output
// becomes a single positionless diagnostic so nothing is dropped.
func ParseDiagnostics(source, output string) []Diagnostic {
	var (
		diags   []Diagnostic
		pending *Diagnostic
	)

	flush := func() {
		if pending != nil {
			diags = append(diags, *pending)
			pending = nil
		}
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := rustHeader.FindStringSubmatch(line); m != nil {
			flush()
			if m[1] == "error" {
				pending = &Diagnostic{Source: source, Message: m[3]}
			}
			continue
		}
		if m := sassHeader.FindStringSubmatch(line); m != nil {
			flush()
			pending = &Diagnostic{Source: source, Message: m[1]}
			continue
		}

		for _, p := range diagnosticPatterns {
			m := p.regex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			file, ln, col, msg := p.fields(m)
			if p.location {
				if pending != nil && pending.File == "" {
					pending.File, pending.Line, pending.Column = file, ln, col
				}
				break
			}
			flush()
			diags = append(diags, Diagnostic{Source: source, Message: msg, File: file, Line: ln, Column: col})
			break
		}
	}
	flush()

	if len(diags) == 0 && strings.TrimSpace(output) != "" {
		diags = append(diags, Diagnostic{Source: source, Message: strings.TrimSpace(output)})
	}

	return diags
}

// Diagnostics converts an error into the surfaced diagnostic list. Tool
// output attached to a TramlineError is parsed; any other error becomes a
// single diagnostic carrying its message.
func Diagnostics(err error) []Diagnostic {
	if err == nil {
		return nil
	}

	var te *TramlineError
	if !errors.As(err, &te) {
		return []Diagnostic{{Message: err.Error()}}
	}

	if te.Output != "" {
		if diags := ParseDiagnostics(te.Source, te.Output); len(diags) > 0 {
			return diags
		}
	}

	return []Diagnostic{{
		Source:  te.Source,
		Message: te.Error(),
		File:    te.FilePath,
		Line:    te.Line,
		Column:  te.Column,
	}}
}
