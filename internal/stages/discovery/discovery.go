package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/stages/packager"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	"github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/languages"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/pkg/suite"
)

// Result is everything later stages need from the suite definition.
type Result struct {
	Suite   *suite.Suite
	Profile languages.Profile
	Policy  report.ScoringPolicy
}

type Discoverer interface {
	Discover(ws *packager.Workspace) (*Result, error)
}

type discoverer struct {
	overrides      config.BuildOverrides
	defaultTimeout time.Duration
	partialCredit  map[report.Status]float64
	logger         *zap.SugaredLogger
}

func NewDiscoverer(cfg *config.Config) Discoverer {
	return &discoverer{
		overrides:      cfg.Build,
		defaultTimeout: cfg.DefaultTestTimeout,
		partialCredit:  cfg.PartialCredit,
		logger:         logger.NewNamedLogger("discovery"),
	}
}

func (d *discoverer) Discover(ws *packager.Workspace) (*Result, error) {
	path, err := FindSuite(ws.TestsDir, ws.SearchPath)
	if err != nil {
		return nil, err
	}
	d.logger.Infof("Loading test suite %s [RunID: %s]", path, ws.RunID)

	l := &loader{
		searchPath:     ws.SearchPath,
		defaultTimeout: d.defaultTimeout,
		active:         make(map[string]bool),
	}
	s, err := l.load(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, err
	}

	profile, err := d.profile(s.Build)
	if err != nil {
		return nil, err
	}
	policy, err := d.policy(s.Scoring)
	if err != nil {
		return nil, err
	}

	d.logger.Infof("Discovered %d tests, language %s, memcheck %s [RunID: %s]",
		len(s.Tests), profile.Language, profile.Memcheck, ws.RunID)
	return &Result{Suite: s, Profile: profile, Policy: policy}, nil
}

// FindSuite returns the first suite file found in the tests directory, then
// in each search path directory.
func FindSuite(testsDir string, searchPath []string) (string, error) {
	dirs := append([]string{testsDir}, searchPath...)
	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		for _, name := range constants.SuiteFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: looked for %s in %s",
		errors.ErrSuiteNotFound, strings.Join(constants.SuiteFileNames, ", "), strings.Join(dirs, ", "))
}

// Parse decodes a suite file. JSON files may carry comments and trailing commas.
func Parse(path string, data []byte) (*suite.Suite, error) {
	s := &suite.Suite{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidSuite, path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidSuite, path, err)
		}
	}

	s.Source = path
	return s, nil
}

type loader struct {
	searchPath     []string
	defaultTimeout time.Duration
	active         map[string]bool
}

// load parses path and expands its includes depth first. Included tests come
// before the including file's own tests.
func (l *loader) load(path string) (*suite.Suite, error) {
	path = filepath.Clean(path)
	if l.active[path] {
		return nil, fmt.Errorf("%w: %s", errors.ErrIncludeCycle, path)
	}
	l.active[path] = true
	defer delete(l.active, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrSuiteNotFound, path, err)
	}
	own, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	ApplyDefaults(own, l.defaultTimeout)
	if err := l.resolveFixtures(dir, own); err != nil {
		return nil, err
	}

	merged := *own
	merged.Include = nil
	merged.Tests = nil
	merged.FilesAccessible = copyGrants(own.FilesAccessible)

	for _, inc := range own.Include {
		incPath, err := l.resolve(dir, inc)
		if err != nil {
			return nil, fmt.Errorf("%w: include %q in %s", errors.ErrSuiteNotFound, inc, path)
		}
		child, err := l.load(incPath)
		if err != nil {
			return nil, err
		}

		merged.Tests = append(merged.Tests, child.Tests...)
		if merged.Build == nil {
			merged.Build = child.Build
		}
		if merged.Scoring == nil {
			merged.Scoring = child.Scoring
		}
		for perms, paths := range child.FilesAccessible {
			if merged.FilesAccessible == nil {
				merged.FilesAccessible = make(map[string][]string)
			}
			merged.FilesAccessible[perms] = append(merged.FilesAccessible[perms], paths...)
		}
	}
	merged.Tests = append(merged.Tests, own.Tests...)

	return &merged, nil
}

func (l *loader) resolveFixtures(dir string, s *suite.Suite) error {
	for i := range s.Tests {
		tc := &s.Tests[i]
		for _, field := range []*string{&tc.StdinFile, &tc.Expect.StdoutFile, &tc.Expect.StderrFile} {
			if *field == "" {
				continue
			}
			resolved, err := l.resolve(dir, *field)
			if err != nil {
				return fmt.Errorf("test %q: %w", tc.Name, err)
			}
			*field = resolved
		}
	}

	for perms, paths := range s.FilesAccessible {
		for i, p := range paths {
			if !filepath.IsAbs(p) {
				paths[i] = filepath.Join(dir, p)
			}
		}
		s.FilesAccessible[perms] = paths
	}
	return nil
}

// resolve finds name next to the file referencing it, then along the search path.
func (l *loader) resolve(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", errors.ErrFixtureNotFound, name)
		}
		return filepath.Clean(name), nil
	}

	for _, base := range append([]string{dir}, l.searchPath...) {
		candidate := filepath.Join(base, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errors.ErrFixtureNotFound, name)
}

// ApplyDefaults fills per-test fields from the suite's defaults block and the
// configured default timeout.
func ApplyDefaults(s *suite.Suite, defaultTimeout time.Duration) {
	for i := range s.Tests {
		tc := &s.Tests[i]

		if tc.Timeout == 0 {
			tc.Timeout = s.Defaults.Timeout
		}
		if tc.Timeout == 0 {
			tc.Timeout = suite.Duration(defaultTimeout)
		}

		if tc.Points == nil {
			points := constants.DefaultTestPoints
			if s.Defaults.Points != nil {
				points = *s.Defaults.Points
			}
			tc.Points = &points
		}

		if tc.Memcheck == nil {
			tc.Memcheck = s.Defaults.Memcheck
		}
		if s.Defaults.EnforceWhitespace {
			tc.Expect.EnforceWhitespace = true
		}

		if len(s.Defaults.Env) > 0 {
			env := make(map[string]string, len(s.Defaults.Env)+len(tc.Env))
			for k, v := range s.Defaults.Env {
				env[k] = v
			}
			for k, v := range tc.Env {
				env[k] = v
			}
			tc.Env = env
		}
	}
}

// Validate checks a fully expanded suite.
func Validate(s *suite.Suite) error {
	names := make(map[string]int, len(s.Tests))
	for i, tc := range s.Tests {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("%w: test %d has no name", errors.ErrInvalidSuite, i+1)
		}
		if prev, ok := names[tc.Name]; ok {
			return fmt.Errorf("%w: %q is declared as test %d and test %d", errors.ErrDuplicateTest, tc.Name, prev+1, i+1)
		}
		names[tc.Name] = i

		if len(tc.Command) == 0 && tc.Skip == "" {
			return fmt.Errorf("%w: test %q has an empty command", errors.ErrInvalidSuite, tc.Name)
		}
		if tc.Points != nil && *tc.Points < 0 {
			return fmt.Errorf("%w: test %q has negative points", errors.ErrInvalidSuite, tc.Name)
		}
		if tc.PointsLostOnFailure < 0 {
			return fmt.Errorf("%w: test %q has negative points_lost_on_failure", errors.ErrInvalidSuite, tc.Name)
		}
		if tc.Stdin != nil && tc.StdinFile != "" {
			return fmt.Errorf("%w: test %q sets both stdin and stdin_file", errors.ErrInvalidSuite, tc.Name)
		}
		if tc.Expect.Stdout != nil && tc.Expect.StdoutFile != "" {
			return fmt.Errorf("%w: test %q sets both expect.stdout and expect.stdout_file", errors.ErrInvalidSuite, tc.Name)
		}
		if tc.Expect.Stderr != nil && tc.Expect.StderrFile != "" {
			return fmt.Errorf("%w: test %q sets both expect.stderr and expect.stderr_file", errors.ErrInvalidSuite, tc.Name)
		}
		if len(tc.Reference) > 0 && (tc.Expect.ExitCode != nil || tc.Expect.Stdout != nil || tc.Expect.StdoutFile != "") {
			return fmt.Errorf("%w: test %q mixes a reference program with explicit expectations", errors.ErrInvalidSuite, tc.Name)
		}
	}
	return nil
}

func (d *discoverer) profile(build *suite.BuildSpec) (languages.Profile, error) {
	var spec suite.BuildSpec
	if build != nil {
		spec = *build
	}
	o := d.overrides

	lang := firstNonEmpty(o.Language, spec.Language)
	if lang == "" {
		lang = languages.SHELL.String()
	}
	lt, err := languages.ParseLanguageType(lang)
	if err != nil {
		return languages.Profile{}, err
	}
	p := languages.Profile{Language: lt}

	p.Version = firstNonEmpty(o.Version, spec.Version)
	if p.Version != "" && p.RequiresBuild() {
		if _, err := languages.GetVersionFlag(lt, p.Version); err != nil {
			return languages.Profile{}, fmt.Errorf("%w: %s %q", err, lt, p.Version)
		}
	}

	p.Compiler = firstNonEmpty(o.Compiler, spec.Compiler)
	if p.Compiler == "" && p.RequiresBuild() {
		if p.Compiler, err = lt.DefaultCompiler(); err != nil {
			return languages.Profile{}, err
		}
	}

	if p.Arch, err = languages.ParseArch(firstNonEmpty(o.Arch, spec.Arch)); err != nil {
		return languages.Profile{}, err
	}

	p.Flags = spec.Flags
	if o.Flags != "" {
		if p.Flags, err = suite.ParseArgs(o.Flags); err != nil {
			return languages.Profile{}, fmt.Errorf("%w: BUILD_FLAGS: %v", errors.ErrInvalidConfig, err)
		}
	}

	if p.Memcheck, err = languages.ParseMemcheckTool(firstNonEmpty(o.Memcheck, spec.Memcheck)); err != nil {
		return languages.Profile{}, err
	}
	if p.Memcheck == languages.MemcheckASan && !p.RequiresBuild() {
		return languages.Profile{}, fmt.Errorf("%w: asan needs a compiled language, got %s", errors.ErrInvalidMemcheck, lt)
	}

	p.BuildTimeout = o.Timeout
	if p.BuildTimeout == 0 {
		p.BuildTimeout = spec.Timeout.Duration()
	}
	if p.BuildTimeout == 0 {
		p.BuildTimeout = constants.DefaultBuildTimeoutSec * time.Second
	}

	p.Sources = spec.Sources
	p.Output = firstNonEmpty(spec.Output, constants.DefaultCompiledArtifactName)
	return p, nil
}

func (d *discoverer) policy(scoring *suite.Scoring) (report.ScoringPolicy, error) {
	p := report.DefaultScoringPolicy()

	if scoring != nil {
		if scoring.Floor != nil {
			p.Floor = *scoring.Floor
		}
		if scoring.Ceiling != nil {
			p.Ceiling = *scoring.Ceiling
		}
		for name, frac := range scoring.PartialCredit {
			st, err := report.ParseStatus(name)
			if err != nil {
				return report.ScoringPolicy{}, fmt.Errorf("%w: %w", errors.ErrInvalidSuite, err)
			}
			p.PartialCredit[st] = frac
		}
	}
	for st, frac := range d.partialCredit {
		p.PartialCredit[st] = frac
	}

	if err := p.Validate(); err != nil {
		return report.ScoringPolicy{}, fmt.Errorf("%w: %w", errors.ErrInvalidSuite, err)
	}
	return p, nil
}

func copyGrants(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for perms, paths := range in {
		out[perms] = append([]string(nil), paths...)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
