package validation

import (
	"testing"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{
			name:    "valid flag",
			arg:     "--release",
			wantErr: false,
		},
		{
			name:    "absolute manifest path",
			arg:     "/home/user/app/Cargo.toml",
			wantErr: false,
		},
		{
			name:    "parent reference",
			arg:     "../shared/Cargo.toml",
			wantErr: false,
		},
		{
			name:    "nul byte",
			arg:     "app\x00.wasm",
			wantErr: true,
		},
		{
			name:    "line break",
			arg:     "app\nrm -rf /",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"bare name", "cargo", false},
		{"absolute path", "/usr/local/bin/wasm-bindgen", false},
		{"empty", "  ", true},
		{"semicolon", "sass; rm -rf /", true},
		{"pipe", "cargo | tee", true},
		{"subshell", "$(which cargo)", true},
		{"backtick", "`cargo`", true},
		{"redirect", "cargo > log", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTargetPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", false},
		{"nested", "static/img", false},
		{"dot segments inside", "static/../assets", false},
		{"parent", "..", true},
		{"escaping", "static/../../etc", true},
		{"absolute", "/var/www", true},
		{"shell character", "static;rm", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTargetPath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSourcePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", false},
		{"sibling", "style.scss", false},
		{"nested with spaces", "assets/file (1).css", false},
		{"dot segments inside", "css/../style.css", false},
		{"parent", "..", true},
		{"escaping", "../../../etc/passwd", true},
		{"absolute", "/etc/passwd", true},
		{"nul byte", "a\x00.css", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourcePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSourcePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:8080", "127.0.0.1:8080"}

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"absent origin", "", false},
		{"allowed host", "http://localhost:8080", false},
		{"allowed loopback", "https://127.0.0.1:8080", false},
		{"foreign host", "http://evil.example", true},
		{"bad scheme", "file://localhost:8080", true},
		{"unparseable", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrigin() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain text", "plain text"},
		{"line\nbreak\ttab", "line\nbreak\ttab"},
		{"nul\x00byte", "nulbyte"},
		{"\x1b[31merror\x1b[0m", "[31merror[0m"},
	}

	for _, tt := range tests {
		if got := SanitizeInput(tt.input); got != tt.expected {
			t.Errorf("SanitizeInput(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func BenchmarkValidateArgument(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateArgument("/home/user/app/target/wasm32-unknown-unknown/release/app.wasm")
	}
}
