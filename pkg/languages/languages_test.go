package languages_test

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	. "github.com/mfbutner/pl-autograders/pkg/languages"
)

func TestParseLanguageType(t *testing.T) {
	tests := []struct {
		in      string
		want    LanguageType
		wantErr bool
	}{
		{in: "c", want: C},
		{in: "C++", want: CPP},
		{in: "cpp", want: CPP},
		{in: "python3", want: PYTHON},
		{in: "bash", want: SHELL},
		{in: "cobol", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguageType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, pkgerrors.ErrInvalidLanguageType) {
					t.Fatalf("expected ErrInvalidLanguageType, got %v", err)
				}
				if !strings.Contains(err.Error(), "C, CPP, PYTHON, SHELL") {
					t.Fatalf("error should list supported languages, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestGetVersionFlag(t *testing.T) {
	flag, err := GetVersionFlag(CPP, "17")
	if err != nil || flag != "c++17" {
		t.Fatalf("got %q, %v", flag, err)
	}
	if _, err := GetVersionFlag(CPP, "98"); !errors.Is(err, pkgerrors.ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
	if _, err := GetVersionFlag(PYTHON, "3"); !errors.Is(err, pkgerrors.ErrInvalidLanguageType) {
		t.Fatalf("expected ErrInvalidLanguageType, got %v", err)
	}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		in       string
		wantFlag string
		wantErr  bool
	}{
		{in: "", wantFlag: ""},
		{in: "32", wantFlag: "-m32"},
		{in: "m64", wantFlag: "-m64"},
		{in: "amd64", wantFlag: "-m64"},
		{in: "arm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			arch, err := ParseArch(tt.in)
			if tt.wantErr {
				if !errors.Is(err, pkgerrors.ErrInvalidArch) {
					t.Fatalf("expected ErrInvalidArch, got %v", err)
				}
				return
			}
			if err != nil || arch.Flag() != tt.wantFlag {
				t.Fatalf("got %q, %v; want %q", arch.Flag(), err, tt.wantFlag)
			}
		})
	}
}

func TestParseMemcheckTool(t *testing.T) {
	for in, want := range map[string]MemcheckTool{
		"":         MemcheckNone,
		"none":     MemcheckNone,
		"Valgrind": MemcheckValgrind,
		"true":     MemcheckValgrind,
		"asan":     MemcheckASan,
	} {
		got, err := ParseMemcheckTool(in)
		if err != nil || got != want {
			t.Errorf("ParseMemcheckTool(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMemcheckTool("purify"); !errors.Is(err, pkgerrors.ErrInvalidMemcheck) {
		t.Fatalf("expected ErrInvalidMemcheck, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	p := Profile{Language: PYTHON}
	if p.RequiresBuild() {
		t.Fatalf("python does not require a build")
	}
	c := Profile{Language: C}
	if !c.RequiresBuild() {
		t.Fatalf("c requires a build")
	}
	if got := c.SourcePatterns(); len(got) != 1 || got[0] != "*.c" {
		t.Fatalf("unexpected default patterns %v", got)
	}
	c.Sources = []string{"src/*.c"}
	if got := c.SourcePatterns(); got[0] != "src/*.c" {
		t.Fatalf("configured sources must win, got %v", got)
	}
	if compiler, _ := CPP.DefaultCompiler(); compiler != "g++" {
		t.Fatalf("unexpected default compiler %q", compiler)
	}
}
