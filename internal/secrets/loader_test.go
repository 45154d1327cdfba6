package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "token")
	if err := os.WriteFile(file, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTOAPPLY_TEST_TOKEN", " from-env ")

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{name: "inline", src: Source{Value: " inline "}, want: "inline"},
		{name: "file wins", src: Source{File: file, Env: "AUTOAPPLY_TEST_TOKEN", Value: "inline"}, want: "from-file"},
		{name: "env over inline", src: Source{Env: "AUTOAPPLY_TEST_TOKEN", Value: "inline"}, want: "from-env"},
		{name: "unset env falls back", src: Source{Env: "AUTOAPPLY_TEST_MISSING", Value: "inline"}, want: "inline"},
		{name: "missing file", src: Source{Name: "board token", File: filepath.Join(dir, "nope")}, wantErr: "reading board token from file"},
		{name: "empty file", src: Source{File: empty}, wantErr: "is empty"},
		{name: "nothing", src: Source{Name: "gemini key"}, wantErr: "gemini key is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
