package tsconfig_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestPropertyProvider_LiteralsAndPatternsKeepOrder(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "tsconfig.app.json"), "{}")
	writeFile(t, filepath.Join(base, "packages", "b", "tsconfig.json"), "{}")
	writeFile(t, filepath.Join(base, "packages", "a", "tsconfig.json"), "{}")

	provider := tsconfig.NewPropertyProvider(" tsconfig.app.json , packages/**/tsconfig.json,tsconfig.app.json,missing.json", slog.Default())

	paths, err := provider.Provide(context.Background(), tsconfig.Request{BaseDir: base})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(base, "tsconfig.app.json"),
		filepath.Join(base, "packages", "a", "tsconfig.json"),
		filepath.Join(base, "packages", "b", "tsconfig.json"),
	}, paths)
	assert.Equal(t, tsconfig.OriginProperty, provider.Origin())
}

func TestPropertyProvider_Absolute(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	abs := filepath.Join(t.TempDir(), "tsconfig.json")
	writeFile(t, abs, "{}")

	paths, err := tsconfig.NewPropertyProvider(abs, slog.Default()).Provide(context.Background(), tsconfig.Request{BaseDir: base})
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, paths)
}

func TestLookupProvider_SkipsExcludedDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "tsconfig.json"), "{}")
	writeFile(t, filepath.Join(base, "web", "tsconfig.json"), "{}")
	writeFile(t, filepath.Join(base, "node_modules", "lib", "tsconfig.json"), "{}")
	writeFile(t, filepath.Join(base, ".git", "tsconfig.json"), "{}")
	writeFile(t, filepath.Join(base, "src", "a.ts"), "")
	writeFile(t, filepath.Join(base, "src", "b.js"), "")
	writeFile(t, filepath.Join(base, "README.md"), "")
	writeFile(t, filepath.Join(base, "node_modules", "lib", "index.js"), "")

	provider := tsconfig.NewLookupProvider(slog.Default())
	assert.Equal(t, -1, provider.ProjectSize())

	paths, err := provider.Provide(context.Background(), tsconfig.Request{BaseDir: base})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(base, "tsconfig.json"),
		filepath.Join(base, "web", "tsconfig.json"),
	}, paths)
	assert.Equal(t, 2, provider.ProjectSize())
}

func TestFallbackProvider_ListsInputFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	provider := tsconfig.NewFallbackProvider(tsconfig.TempWriter{Dir: dir}, 0, nil, slog.Default())

	paths, err := provider.Provide(context.Background(), tsconfig.Request{
		BaseDir:    "/p",
		InputFiles: []string{"/p/a.ts", "/p/b.js"},
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	var cfg map[string]any

	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, []any{"/p/a.ts", "/p/b.js"}, cfg["files"])
	assert.Equal(t, map[string]any{"allowJs": true, "noImplicitAny": true}, cfg["compilerOptions"])
}

func TestFallbackProvider_InteractiveWildcard(t *testing.T) {
	t.Parallel()

	provider := tsconfig.NewFallbackProvider(tsconfig.TempWriter{Dir: t.TempDir()}, 10, func() int { return 3 }, slog.Default())

	paths, err := provider.Provide(context.Background(), tsconfig.Request{BaseDir: "/proj", Interactive: true})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"include":["/proj/**/*"]`)
}

func TestFallbackProvider_CeilingWarnsOnce(t *testing.T) {
	t.Parallel()

	var warnings []string

	provider := tsconfig.NewFallbackProvider(tsconfig.TempWriter{Dir: t.TempDir()}, 10, func() int { return 10 }, slog.Default())
	provider.OnWarning(func(msg string) { warnings = append(warnings, msg) })

	for range 3 {
		_, err := provider.Provide(context.Background(), tsconfig.Request{BaseDir: "/proj", Interactive: true})
		require.ErrorIs(t, err, tsconfig.ErrTypeCheckingDisabled)
	}

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "sonar.javascript.sonarlint.typechecking.maxfiles")
}
