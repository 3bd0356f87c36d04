package compiler

import (
	"github.com/mfbutner/pl-autograders/pkg/languages"
)

var sanitizerFlags = []string{"-fsanitize=address,undefined", "-fno-omit-frame-pointer", "-g"}

// GccCompiler drives gcc-compatible toolchains (gcc, g++, clang, clang++).
type GccCompiler struct {
	compiler    string
	versionFlag string
	archFlag    string
	flags       []string
	sanitize    bool
}

func NewGccCompiler(profile languages.Profile) (*GccCompiler, error) {
	c := &GccCompiler{
		compiler: profile.Compiler,
		archFlag: profile.Arch.Flag(),
		flags:    profile.Flags,
		sanitize: profile.Memcheck == languages.MemcheckASan,
	}
	if c.compiler == "" {
		var err error
		if c.compiler, err = profile.Language.DefaultCompiler(); err != nil {
			return nil, err
		}
	}
	if profile.Version != "" {
		versionFlag, err := languages.GetVersionFlag(profile.Language, profile.Version)
		if err != nil {
			return nil, err
		}
		c.versionFlag = "-std=" + versionFlag
	}
	return c, nil
}

func (c *GccCompiler) Command(sources []string, output string) ([]string, error) {
	argv := []string{c.compiler}
	if c.versionFlag != "" {
		argv = append(argv, c.versionFlag)
	}
	if c.archFlag != "" {
		argv = append(argv, c.archFlag)
	}
	if c.sanitize {
		argv = append(argv, sanitizerFlags...)
	}
	argv = append(argv, c.flags...)
	argv = append(argv, "-o", output)
	return append(argv, sources...), nil
}
