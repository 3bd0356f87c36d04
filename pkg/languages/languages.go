package languages

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mfbutner/pl-autograders/pkg/errors"
)

type LanguageType int

const (
	C LanguageType = iota + 1
	CPP
	PYTHON
	SHELL
)

func (lt LanguageType) String() string {
	for key, value := range LanguageTypeMap {
		if value == lt {
			return key
		}
	}
	return ""
}

// IsScriptingLanguage reports whether submissions in this language run without a build step.
func (lt LanguageType) IsScriptingLanguage() bool {
	return lt == PYTHON || lt == SHELL
}

// DefaultCompiler returns the toolchain driver used when no compiler is configured.
func (lt LanguageType) DefaultCompiler() (string, error) {
	switch lt {
	case C:
		return "gcc", nil
	case CPP:
		return "g++", nil
	default:
		return "", errors.ErrInvalidLanguageType
	}
}

var LanguageTypeMap = map[string]LanguageType{
	"C":      C,
	"CPP":    CPP,
	"PYTHON": PYTHON,
	"SHELL":  SHELL,
}

// Aliases accepted by ParseLanguageType in addition to the canonical names.
var languageAliases = map[string]LanguageType{
	"C++":     CPP,
	"CXX":     CPP,
	"PY":      PYTHON,
	"PYTHON3": PYTHON,
	"SH":      SHELL,
	"BASH":    SHELL,
}

var LanguageExtensionMap = map[LanguageType][]string{
	C:      {"*.c"},
	CPP:    {"*.cpp", "*.cc", "*.cxx"},
	PYTHON: {"*.py"},
	SHELL:  {"*.sh"},
}

var LanguageVersionMap = map[LanguageType]map[string]string{
	C: {
		"99": "c99",
		"11": "c11",
		"17": "c17",
		"23": "c2x",
	},
	CPP: {
		"11": "c++11",
		"14": "c++14",
		"17": "c++17",
		"20": "c++20",
	},
}

func GetVersionFlag(language LanguageType, version string) (string, error) {
	if versions, ok := LanguageVersionMap[language]; ok {
		if flag, ok := versions[version]; ok {
			return flag, nil
		}
		return "", errors.ErrInvalidVersion
	}
	return "", errors.ErrInvalidLanguageType
}

func ParseLanguageType(s string) (LanguageType, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if lt, ok := LanguageTypeMap[key]; ok {
		return lt, nil
	}
	if lt, ok := languageAliases[key]; ok {
		return lt, nil
	}
	return 0, fmt.Errorf("%w: %q (supported: %s)", errors.ErrInvalidLanguageType, s, strings.Join(GetSupportedLanguages(), ", "))
}

// MemcheckTool selects the memory-safety instrumentation applied to a submission.
type MemcheckTool string

const (
	MemcheckNone     MemcheckTool = "none"
	MemcheckValgrind MemcheckTool = "valgrind"
	MemcheckASan     MemcheckTool = "asan"
)

func ParseMemcheckTool(s string) (MemcheckTool, error) {
	switch MemcheckTool(strings.ToLower(strings.TrimSpace(s))) {
	case "", MemcheckNone, "off", "false":
		return MemcheckNone, nil
	case MemcheckValgrind, "true", "on":
		return MemcheckValgrind, nil
	case MemcheckASan, "sanitizer", "address":
		return MemcheckASan, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidMemcheck, s)
	}
}

// Arch is the target word size of a native build.
type Arch string

const (
	ArchNative Arch = ""
	Arch32     Arch = "32"
	Arch64     Arch = "64"
)

func ParseArch(s string) (Arch, error) {
	switch strings.TrimSpace(strings.TrimPrefix(strings.ToLower(s), "m")) {
	case "", "native":
		return ArchNative, nil
	case "32", "x86", "i386":
		return Arch32, nil
	case "64", "x86_64", "amd64":
		return Arch64, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidArch, s)
	}
}

// Flag returns the compiler flag selecting the architecture, or "" for the toolchain default.
func (a Arch) Flag() string {
	if a == ArchNative {
		return ""
	}
	return "-m" + string(a)
}

// Profile describes how a submission is built and instrumented.
type Profile struct {
	Language     LanguageType
	Version      string
	Compiler     string
	Arch         Arch
	Flags        []string
	Memcheck     MemcheckTool
	BuildTimeout time.Duration
	Sources      []string
	Output       string
}

// RequiresBuild reports whether the profile needs the toolchain before tests can run.
func (p Profile) RequiresBuild() bool {
	return !p.Language.IsScriptingLanguage()
}

// SourcePatterns returns the configured source globs, falling back to the language's extensions.
func (p Profile) SourcePatterns() []string {
	if len(p.Sources) > 0 {
		return p.Sources
	}
	return LanguageExtensionMap[p.Language]
}

// GetSupportedLanguages returns the canonical language names in sorted order.
func GetSupportedLanguages() []string {
	languages := make([]string, 0, len(LanguageTypeMap))
	for lang := range LanguageTypeMap {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}
