package core

import (
	"testing"

	"github.com/spf13/afero"
)

// newTestFs builds an in-memory filesystem from a path -> content map.
func newTestFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range files {
		if err := afero.WriteFile(fs, p, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file %s: %v", p, err)
		}
	}
	return fs
}

func assertParsedPath(t *testing.T, parsed ParsedPath, expectedPath string, expectedKind PathKind) {
	t.Helper()
	if parsed.FullPath != expectedPath {
		t.Errorf("expected path %s, got %s", expectedPath, parsed.FullPath)
	}
	if parsed.Kind != expectedKind {
		t.Errorf("expected kind %v, got %v", expectedKind, parsed.Kind)
	}
}

func assertValidationError(t *testing.T, err error, expectedArg string, expectedCause string) {
	t.Helper()
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if expectedArg != "" && validationErr.Arg != expectedArg {
		t.Errorf("expected Arg to be %q, got %q", expectedArg, validationErr.Arg)
	}
	if expectedCause != "" && validationErr.Cause != expectedCause {
		t.Errorf("expected Cause to be %q, got %q", expectedCause, validationErr.Cause)
	}
}

// Tests

func TestParseArgs(t *testing.T) {
	t.Run("empty args returns error", func(t *testing.T) {
		result, err := ParseArgs(afero.NewMemMapFs(), []string{})

		if err == nil {
			t.Fatal("expected error for empty args")
		}
		if result != nil {
			t.Error("expected nil result for empty args")
		}
		assertValidationError(t, err, "<files>", "no files provided")
	})

	t.Run("single file", func(t *testing.T) {
		fs := newTestFs(t, map[string]string{"/data/test.txt": "content"})

		result, err := ParseArgs(fs, []string{"/data/test.txt"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result) != 1 {
			t.Fatalf("expected 1 result, got %d", len(result))
		}
		assertParsedPath(t, result[0], "/data/test.txt", PathFile)
	})

	t.Run("single directory", func(t *testing.T) {
		fs := newTestFs(t, map[string]string{"/data/test.txt": "content"})

		result, err := ParseArgs(fs, []string{"/data"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		assertParsedPath(t, result[0], "/data", PathDir)
	})

	t.Run("nonexistent path returns error", func(t *testing.T) {
		result, err := ParseArgs(afero.NewMemMapFs(), []string{"/nonexistent/path/file.txt"})

		if err == nil {
			t.Fatal("expected error for nonexistent path")
		}
		if result != nil {
			t.Error("expected nil result for nonexistent path")
		}
		assertValidationError(t, err, "/nonexistent/path/file.txt", "not found or not accessible")
	})

	t.Run("path cleaning", func(t *testing.T) {
		fs := newTestFs(t, map[string]string{"/data/test.txt": "content"})

		result, err := ParseArgs(fs, []string{"/data/./sub/../test.txt"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		assertParsedPath(t, result[0], "/data/test.txt", PathFile)
	})

	t.Run("repeated arguments collapse", func(t *testing.T) {
		fs := newTestFs(t, map[string]string{"/data/test.txt": "content"})

		result, err := ParseArgs(fs, []string{"/data/test.txt", "/data//test.txt"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result) != 1 {
			t.Errorf("expected 1 result, got %d", len(result))
		}
	})

	t.Run("mixed files and directories", func(t *testing.T) {
		fs := newTestFs(t, map[string]string{
			"/data/test.txt":         "content",
			"/data/subdir/inner.txt": "inner",
		})

		result, err := ParseArgs(fs, []string{"/data/test.txt", "/data/subdir"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result) != 2 {
			t.Fatalf("expected 2 results, got %d", len(result))
		}
		assertParsedPath(t, result[0], "/data/test.txt", PathFile)
		assertParsedPath(t, result[1], "/data/subdir", PathDir)
	})
}

func TestValidationError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := &ValidationError{
			Arg:   "test.txt",
			Cause: "file not found",
		}

		expected := `invalid argument "test.txt": file not found`
		if err.Error() != expected {
			t.Errorf("expected error message %q, got %q", expected, err.Error())
		}
	})
}
