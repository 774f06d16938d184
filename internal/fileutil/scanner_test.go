package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files []string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}
}

func relNames(t *testing.T, root string, files []string) []string {
	t.Helper()
	absRoot, _ := filepath.Abs(root)
	out := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(absRoot, f)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestScanDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, []string{
		"builder.yaml",
		"tester.YML",
		"notes.txt",
		"README.md",
		"reviewer.md",
		"pool/gpu-1.yaml",
		"pool/deep/gpu-2.yaml",
		".sentinel/cache.yaml",
		"archive/old.yaml",
	})

	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{
			name: "root only by extension",
			opts: ScanOptions{Extensions: []string{"yaml", ".yml"}},
			want: []string{"builder.yaml", "tester.YML"},
		},
		{
			name: "recursive skips hidden and excluded",
			opts: ScanOptions{Extensions: []string{".yaml"}, Recursive: true, ExcludeDirs: []string{"archive"}},
			want: []string{"builder.yaml", "pool/deep/gpu-2.yaml", "pool/gpu-1.yaml"},
		},
		{
			name: "max depth",
			opts: ScanOptions{Extensions: []string{".yaml"}, Recursive: true, MaxDepth: 2, ExcludeDirs: []string{"archive"}},
			want: []string{"builder.yaml", "pool/gpu-1.yaml"},
		},
		{
			name: "pattern and skip names",
			opts: ScanOptions{Extensions: []string{".md"}, SkipNames: []string{"README.md"}},
			want: []string{"reviewer.md"},
		},
		{
			name: "pattern on name without extension",
			opts: ScanOptions{Pattern: "^gpu-\\d$", Recursive: true},
			want: []string{"pool/deep/gpu-2.yaml", "pool/gpu-1.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ScanDirectory(tmpDir, tt.opts)
			if err != nil {
				t.Fatalf("ScanDirectory() error = %v", err)
			}
			got := relNames(t, tmpDir, result.Files)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("file[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScanDirectoryErrors(t *testing.T) {
	if _, err := ScanDirectory("/nonexistent/dir", ScanOptions{}); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "file.yaml")
	writeTree(t, filepath.Dir(file), []string{"file.yaml"})
	if _, err := ScanDirectory(file, ScanOptions{}); err == nil {
		t.Error("expected error for file path")
	}

	if _, err := ScanDirectory(t.TempDir(), ScanOptions{Pattern: "("}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	if !IsDir(dir) {
		t.Error("temp dir should be a directory")
	}
	if IsDir(filepath.Join(dir, "missing")) {
		t.Error("missing path is not a directory")
	}
}
