package host

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/src-d/enry/v2"
)

// binarySniffLength is how much of a file is inspected for binary content.
const binarySniffLength = 8000

// linguistLanguages maps enry language names to engine languages.
var linguistLanguages = map[string]Language{
	"JavaScript": LangJS,
	"JSX":        LangJS,
	"TypeScript": LangTS,
	"TSX":        LangTS,
	"CSS":        LangCSS,
	"SCSS":       LangCSS,
	"Less":       LangCSS,
	"YAML":       LangYAML,
	"HTML":       LangHTML,
}

// extensionLanguages covers extensions enry reports as ambiguous.
var extensionLanguages = map[string]Language{
	".js": LangJS, ".jsx": LangJS, ".mjs": LangJS, ".cjs": LangJS,
	".ts": LangTS, ".tsx": LangTS, ".mts": LangTS, ".cts": LangTS,
	".css": LangCSS, ".scss": LangCSS, ".less": LangCSS,
	".yaml": LangYAML, ".yml": LangYAML,
	".html": LangHTML, ".htm": LangHTML,
}

// DetectLanguage returns the engine language for path, if the engine has one.
func DetectLanguage(path string) (Language, bool) {
	name, _ := enry.GetLanguageByExtension(path)
	if lang, ok := linguistLanguages[name]; ok {
		return lang, true
	}

	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]

	return lang, ok
}

// IsTestPath reports whether path follows a test file naming convention.
func IsTestPath(path string) bool {
	base := filepath.Base(path)

	return strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
		strings.Contains(filepath.ToSlash(path), "/__tests__/")
}

// IsBinaryFile reports whether the head of the file at path looks binary.
func IsBinaryFile(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	head := make([]byte, binarySniffLength)

	n, readErr := io.ReadFull(file, head)
	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
		return false, fmt.Errorf("read %s: %w", path, readErr)
	}

	return enry.IsBinary(head[:n]), nil
}
