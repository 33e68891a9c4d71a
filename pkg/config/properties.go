package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalidProperty indicates a host property with an unusable value.
var ErrInvalidProperty = errors.New("invalid property")

// Host property keys.
const (
	PropTsConfigPaths = "sonar.typescript.tsconfigPaths"
	PropTsConfigPath  = "sonar.typescript.tsconfigPath"
	PropMaxFiles      = "sonar.javascript.sonarlint.typechecking.maxfiles"
	PropExecutable    = "sonar.nodejs.executable"
	PropTypeChecking  = "sonar.javascript.typechecking.enabled"
	PropQuickFix      = "sonar.javascript.quickfix.enabled"
	PropASTEnabled    = "sonar.javascript.ast.enabled"
	PropFailFast      = "sonar.internal.analysis.failFast"
	PropEnvironments  = "sonar.javascript.environments"
	PropGlobals       = "sonar.javascript.globals"
	PropMaxOldSpace   = "sonar.javascript.node.maxspace"
	PropDebugMemory   = "sonar.javascript.node.debugMemory"
)

type propertyKind int

const (
	kindString propertyKind = iota
	kindList
	kindInt
	kindBool
	kindInvertedBool
)

type propertyBinding struct {
	key  string
	kind propertyKind
}

var propertyBindings = map[string]propertyBinding{
	PropTsConfigPaths: {"tsconfig.paths", kindList},
	PropTsConfigPath:  {"tsconfig.paths", kindList},
	PropMaxFiles:      {"tsconfig.max_files", kindInt},
	PropExecutable:    {"engine.executable", kindString},
	PropTypeChecking:  {"analysis.type_checking", kindBool},
	PropQuickFix:      {"analysis.quick_fixes", kindBool},
	PropASTEnabled:    {"analysis.skip_ast", kindInvertedBool},
	PropFailFast:      {"analysis.fail_fast", kindBool},
	PropEnvironments:  {"analysis.environments", kindList},
	PropGlobals:       {"analysis.globals", kindList},
	PropMaxOldSpace:   {"engine.max_old_space_mb", kindInt},
	PropDebugMemory:   {"engine.debug", kindBool},
}

// ApplyProperties overrides configuration keys from host properties. Unknown
// properties are ignored. When both tsconfig path properties are set, the
// plural one wins.
func ApplyProperties(v *viper.Viper, properties map[string]string) error {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}

	// The singular tsconfig key sorts first, so the plural one overrides it.
	sort.Strings(names)

	for _, name := range names {
		binding, ok := propertyBindings[name]
		if !ok {
			continue
		}

		value, err := convertProperty(binding.kind, properties[name])
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidProperty, name, properties[name], err)
		}

		v.Set(binding.key, value)
	}

	return nil
}

func convertProperty(kind propertyKind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)

	switch kind {
	case kindList:
		return SplitList(raw), nil
	case kindInt:
		return strconv.Atoi(raw)
	case kindBool:
		return strconv.ParseBool(raw)
	case kindInvertedBool:
		b, err := strconv.ParseBool(raw)

		return !b, err
	default:
		return raw, nil
	}
}

// SplitList splits a comma separated property value, dropping blanks.
func SplitList(raw string) []string {
	var out []string

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}

// ParseProperty splits a key=value pair as given on the command line.
func ParseProperty(pair string) (string, string, error) {
	key, value, ok := strings.Cut(pair, "=")
	key = strings.TrimSpace(key)

	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: expected key=value, got %q", ErrInvalidProperty, pair)
	}

	return key, value, nil
}
