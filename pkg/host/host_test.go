package host_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

func TestInputFile_ContentForEngine_DiskUTF8(t *testing.T) {
	t.Parallel()

	file := host.InputFile{Path: "/src/a.js", Encoding: "utf-8"}

	content, err := file.ContentForEngine(false)
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestInputFile_ContentForEngine_NonUTF8ReadsDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.js")
	require.NoError(t, os.WriteFile(path, []byte("let a = 1;"), 0o600))

	file := host.InputFile{Path: path, Encoding: "ISO-8859-1"}

	content, err := file.ContentForEngine(false)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, "let a = 1;", *content)
}

func TestInputFile_ContentForEngine_InteractiveUsesBuffer(t *testing.T) {
	t.Parallel()

	file := host.InputFile{Path: "/src/a.js", Content: []byte("x()")}

	content, err := file.ContentForEngine(true)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, "x()", *content)
}

func TestInputFile_ReadContent_MissingFile(t *testing.T) {
	t.Parallel()

	file := host.InputFile{Path: filepath.Join(t.TempDir(), "missing.js")}

	_, err := file.ReadContent()
	require.Error(t, err)
}

func TestTextRange_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rng   host.TextRange
		valid bool
	}{
		{"same line", host.TextRange{StartLine: 1, StartColumn: 2, EndLine: 1, EndColumn: 5}, true},
		{"empty", host.TextRange{StartLine: 3, StartColumn: 4, EndLine: 3, EndColumn: 4}, true},
		{"multi line", host.TextRange{StartLine: 1, StartColumn: 9, EndLine: 2, EndColumn: 0}, true},
		{"end column before start", host.TextRange{StartLine: 1, StartColumn: 5, EndLine: 1, EndColumn: 2}, false},
		{"end line before start", host.TextRange{StartLine: 4, StartColumn: 0, EndLine: 3, EndColumn: 2}, false},
		{"zero line", host.TextRange{StartLine: 0, StartColumn: 0, EndLine: 1, EndColumn: 2}, false},
		{"negative column", host.TextRange{StartLine: 1, StartColumn: -1, EndLine: 1, EndColumn: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.valid, tt.rng.Valid())
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want host.Language
		ok   bool
	}{
		{"/p/a.js", host.LangJS, true},
		{"/p/a.mjs", host.LangJS, true},
		{"/p/a.ts", host.LangTS, true},
		{"/p/a.tsx", host.LangTS, true},
		{"/p/a.css", host.LangCSS, true},
		{"/p/a.yaml", host.LangYAML, true},
		{"/p/a.html", host.LangHTML, true},
		{"/p/a.go", "", false},
	}

	for _, tt := range tests {
		lang, ok := host.DetectLanguage(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, lang, tt.path)
	}
}

func TestIsTestPath(t *testing.T) {
	t.Parallel()

	assert.True(t, host.IsTestPath("/p/src/a.test.ts"))
	assert.True(t, host.IsTestPath("/p/src/a.spec.js"))
	assert.True(t, host.IsTestPath("/p/__tests__/a.js"))
	assert.False(t, host.IsTestPath("/p/src/contest.ts"))
}

func TestIsBinaryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	text := filepath.Join(dir, "app.js")
	blob := filepath.Join(dir, "font.js")

	require.NoError(t, os.WriteFile(text, []byte("const a = 1;\n"), 0o600))
	require.NoError(t, os.WriteFile(blob, []byte{0x00, 0x01, 0x02, 'j', 's'}, 0o600))

	binary, err := host.IsBinaryFile(text)
	require.NoError(t, err)
	assert.False(t, binary)

	binary, err = host.IsBinaryFile(blob)
	require.NoError(t, err)
	assert.True(t, binary)

	_, err = host.IsBinaryFile(filepath.Join(dir, "absent.js"))
	require.Error(t, err)
}
