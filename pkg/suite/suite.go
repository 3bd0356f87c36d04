package suite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Suite is a parsed test suite definition. Includes are already expanded
// once a Suite leaves the discovery stage.
type Suite struct {
	Name            string              `yaml:"name" json:"name"`
	Include         []string            `yaml:"include" json:"include"`
	Defaults        Defaults            `yaml:"defaults" json:"defaults"`
	Build           *BuildSpec          `yaml:"build" json:"build"`
	Scoring         *Scoring            `yaml:"scoring" json:"scoring"`
	FilesAccessible map[string][]string `yaml:"files_accessible" json:"files_accessible"`
	Tests           []TestCase          `yaml:"tests" json:"tests"`

	// Source is the file the suite was loaded from.
	Source string `yaml:"-" json:"-"`
}

type Defaults struct {
	Timeout           Duration          `yaml:"timeout" json:"timeout"`
	Points            *float64          `yaml:"points" json:"points"`
	Memcheck          *bool             `yaml:"memcheck" json:"memcheck"`
	EnforceWhitespace bool              `yaml:"enforce_whitespace" json:"enforce_whitespace"`
	Env               map[string]string `yaml:"env" json:"env"`
}

// BuildSpec is the suite's build profile. Every field may be overridden from the environment.
type BuildSpec struct {
	Language string   `yaml:"language" json:"language"`
	Version  string   `yaml:"version" json:"version"`
	Compiler string   `yaml:"compiler" json:"compiler"`
	Arch     string   `yaml:"arch" json:"arch"`
	Flags    Args     `yaml:"flags" json:"flags"`
	Memcheck string   `yaml:"memcheck" json:"memcheck"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
	Sources  []string `yaml:"sources" json:"sources"`
	Output   string   `yaml:"output" json:"output"`
}

type Scoring struct {
	Floor         *float64           `yaml:"floor" json:"floor"`
	Ceiling       *float64           `yaml:"ceiling" json:"ceiling"`
	PartialCredit map[string]float64 `yaml:"partial_credit" json:"partial_credit"`
}

type TestCase struct {
	Name                string            `yaml:"name" json:"name"`
	Description         string            `yaml:"description" json:"description"`
	Command             Args              `yaml:"cmd" json:"cmd"`
	Stdin               *string           `yaml:"stdin" json:"stdin"`
	StdinFile           string            `yaml:"stdin_file" json:"stdin_file"`
	WorkDir             string            `yaml:"workdir" json:"workdir"`
	Env                 map[string]string `yaml:"env" json:"env"`
	Expect              Expectation       `yaml:"expect" json:"expect"`
	Reference           Args              `yaml:"reference" json:"reference"`
	Timeout             Duration          `yaml:"timeout" json:"timeout"`
	Points              *float64          `yaml:"points" json:"points"`
	PointsLostOnFailure float64           `yaml:"points_lost_on_failure" json:"points_lost_on_failure"`
	Hidden              bool              `yaml:"hidden" json:"hidden"`
	Memcheck            *bool             `yaml:"memcheck" json:"memcheck"`
	Skip                string            `yaml:"skip" json:"skip"`
}

// MaxPoints is the sum of the points of every test in the suite.
func (s *Suite) MaxPoints() float64 {
	var total float64
	for _, tc := range s.Tests {
		total += tc.MaxPoints()
	}
	return total
}

// MaxPoints returns the points available for the test. Defaults are applied at discovery.
func (tc TestCase) MaxPoints() float64 {
	if tc.Points == nil {
		return 0
	}
	return *tc.Points
}

// Expectation is the predicate deciding whether a run passed.
type Expectation struct {
	ExitCode          *int    `yaml:"exit_code" json:"exit_code"`
	Stdout            *string `yaml:"stdout" json:"stdout"`
	StdoutFile        string  `yaml:"stdout_file" json:"stdout_file"`
	Stderr            *string `yaml:"stderr" json:"stderr"`
	StderrFile        string  `yaml:"stderr_file" json:"stderr_file"`
	EnforceWhitespace bool    `yaml:"enforce_whitespace" json:"enforce_whitespace"`
	Checker           Args    `yaml:"checker" json:"checker"`
}

// IsZero reports whether no predicate was configured, in which case exit code 0 is expected.
func (e Expectation) IsZero() bool {
	return e.ExitCode == nil && e.Stdout == nil && e.StdoutFile == "" &&
		e.Stderr == nil && e.StderrFile == "" && len(e.Checker) == 0
}

// Args is an argv list. A single string is split with shell quoting rules.
type Args []string

func (a Args) String() string {
	quoted := make([]string, len(a))
	for i, arg := range a {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$`") {
			quoted[i] = strconv.Quote(arg)
			continue
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}

func ParseArgs(s string) (Args, error) {
	parts, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", s, err)
	}
	return Args(parts), nil
}

func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseArgs(value.Value)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("decode command failed: %w", err)
	}
	*a = list
	return nil
}

func (a *Args) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseArgs(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode command failed: %w", err)
	}
	*a = list
	return nil
}

// Duration accepts Go duration strings ("2.5s", "1m") or a bare number of seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", raw)
		}
		return Duration(time.Duration(secs * float64(time.Second))), nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration failed: %w", err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return Duration(parsed), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration failed: %w", err)
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		parsed, err := parseDuration(strconv.FormatFloat(num, 'f', -1, 64))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode duration failed: %w", err)
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
