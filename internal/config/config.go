package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/report"
)

// BuildOverrides holds build profile values taken from the environment.
// Empty fields leave the suite's build section in charge.
type BuildOverrides struct {
	Language string
	Version  string
	Compiler string
	Arch     string
	Flags    string
	Memcheck string
	Timeout  time.Duration
}

type NotifyConfig struct {
	Enabled     bool
	RabbitMQURL string
	QueueName   string
}

type Config struct {
	GradeDir    string
	TestsDir    string
	StudentDir  string
	ResultsFile string
	SearchPath  []string
	FixturesDir string

	Build BuildOverrides

	MaxParallelTests   int
	DefaultTestTimeout time.Duration
	OutputLimitBytes   int
	PartialCredit      map[report.Status]float64

	SandboxBackend    string
	SandboxUser       string
	SandboxCreateUser bool
	SandboxImage      string

	VerifierFlags []string
	LogLevel      string

	Notify NotifyConfig

	// ShowVersion is set by --version; the caller prints the version and exits.
	ShowVersion bool
}

// ResultsDir is the directory holding the results file.
func (c *Config) ResultsDir() string {
	return filepath.Dir(c.ResultsFile)
}

type envReader struct {
	logger *zap.SugaredLogger
	err    error
}

func (r *envReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s: %v", pkgerrors.ErrInvalidConfig, name, err)
	}
}

func (r *envReader) str(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		if def != "" {
			r.logger.Warnf("%s is not set, using default value %s", name, def)
		}
		return def
	}
	return v
}

func (r *envReader) positiveInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		r.logger.Warnf("%s is not set, using default value %d", name, def)
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, err)
		return def
	}
	if n <= 0 {
		r.fail(name, fmt.Errorf("must be positive, got %d", n))
		return def
	}
	return n
}

func (r *envReader) seconds(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		if def > 0 {
			r.logger.Warnf("%s is not set, using default value %s", name, def)
		}
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, err)
		return def
	}
	if secs <= 0 {
		r.fail(name, fmt.Errorf("must be positive, got %v", secs))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (r *envReader) boolean(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, err)
		return def
	}
	return b
}

// NewConfig reads the configuration from the environment, an optional .env file
// and command-line flags, in increasing order of precedence.
func NewConfig(args []string) (*Config, error) {
	logger := logger.NewNamedLogger("config")

	if err := loadDotEnv(logger); err != nil {
		return nil, err
	}

	r := &envReader{logger: logger}
	cfg := &Config{}

	layoutConfig(r, cfg)
	buildConfig(r, cfg)
	runnerConfig(r, cfg)
	sandboxConfig(r, cfg)
	cfg.VerifierFlags = verifierConfig(r)
	cfg.LogLevel = r.str("LOG_LEVEL", constants.DefaultLogLevel)
	cfg.Notify = notifyConfig(r)

	if r.err != nil {
		return nil, r.err
	}

	if err := applyFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(logger *zap.SugaredLogger) error {
	_, err := os.Stat(".env")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: failed to stat .env file: %v", pkgerrors.ErrInvalidConfig, err)
		}
		return nil
	}
	if os.Getenv("ENV") == "PROD" {
		logger.Warn(".env file detected in production environment. This is not recommended.")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("%w: failed to load .env file: %v", pkgerrors.ErrInvalidConfig, err)
	}
	return nil
}

func layoutConfig(r *envReader, cfg *Config) {
	cfg.GradeDir = r.str("GRADE_DIR", constants.DefaultGradeDir)
	cfg.TestsDir = r.str("TESTS_DIR", filepath.Join(cfg.GradeDir, constants.DefaultTestsDirName))
	cfg.StudentDir = r.str("STUDENT_DIR", filepath.Join(cfg.GradeDir, constants.DefaultStudentDirName))
	cfg.ResultsFile = r.str("RESULTS_FILE",
		filepath.Join(cfg.GradeDir, constants.DefaultResultsDirName, constants.DefaultResultFileName))
	cfg.SearchPath = splitSearchPath(os.Getenv("TEST_SEARCH_PATH"))
	cfg.FixturesDir = os.Getenv("FIXTURES_DIR")
}

func buildConfig(r *envReader, cfg *Config) {
	cfg.Build = BuildOverrides{
		Language: os.Getenv("LANGUAGE"),
		Version:  os.Getenv("LANGUAGE_VERSION"),
		Compiler: os.Getenv("COMPILER"),
		Arch:     os.Getenv("COMPILER_ARCH"),
		Flags:    os.Getenv("BUILD_FLAGS"),
		Memcheck: os.Getenv("MEMCHECK"),
		Timeout:  r.seconds("BUILD_TIMEOUT_SEC", 0),
	}
}

func runnerConfig(r *envReader, cfg *Config) {
	cfg.MaxParallelTests = r.positiveInt("MAX_PARALLEL_TESTS", constants.DefaultMaxParallelTests)
	cfg.DefaultTestTimeout = r.seconds("DEFAULT_TEST_TIMEOUT_SEC", constants.DefaultTestTimeoutSec*time.Second)
	cfg.OutputLimitBytes = r.positiveInt("OUTPUT_LIMIT_BYTES", constants.DefaultOutputLimitBytes)

	if v := os.Getenv("PARTIAL_CREDIT"); v != "" {
		credit, err := report.ParsePartialCredit(v)
		if err != nil {
			r.fail("PARTIAL_CREDIT", err)
			return
		}
		cfg.PartialCredit = credit
	}
}

func sandboxConfig(r *envReader, cfg *Config) {
	cfg.SandboxBackend = strings.ToLower(r.str("SANDBOX_BACKEND", constants.DefaultSandboxBackend))
	cfg.SandboxUser = r.str("SANDBOX_USER", constants.DefaultSandboxUser)
	cfg.SandboxCreateUser = r.boolean("SANDBOX_CREATE_USER", true)
	cfg.SandboxImage = r.str("SANDBOX_IMAGE", constants.DefaultSandboxImage)
}

func verifierConfig(r *envReader) []string {
	verifierFlagsStr := r.str("VERIFIER_FLAGS", constants.DefaultVerifierFlags)
	var flags []string
	for _, f := range strings.Split(verifierFlagsStr, ",") {
		if f = strings.TrimSpace(f); f != "" {
			flags = append(flags, f)
		}
	}
	return flags
}

func notifyConfig(r *envReader) NotifyConfig {
	nc := NotifyConfig{Enabled: r.boolean("NOTIFY_ENABLED", false)}
	if !nc.Enabled {
		return nc
	}

	rabbitmqHost := r.str("RABBITMQ_HOST", constants.DefaultRabbitmqHost)
	rabbitmqPortStr := r.str("RABBITMQ_PORT", constants.DefaultRabbitmqPort)
	rabbitmqPort, err := strconv.ParseUint(rabbitmqPortStr, 10, 16)
	if err != nil {
		r.fail("RABBITMQ_PORT", err)
		return nc
	}
	rabbitmqUser := r.str("RABBITMQ_USER", constants.DefaultRabbitmqUser)
	rabbitmqPassword := r.str("RABBITMQ_PASSWORD", constants.DefaultRabbitmqPassword)

	nc.RabbitMQURL = fmt.Sprintf("amqp://%s:%s@%s:%d/", rabbitmqUser, rabbitmqPassword, rabbitmqHost, rabbitmqPort)
	nc.QueueName = r.str("NOTIFY_QUEUE_NAME", constants.DefaultNotifyQueueName)
	return nc
}

func applyFlags(cfg *Config, args []string) error {
	flagSet := pflag.NewFlagSet("autograder", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.TestsDir, "tests-dir", cfg.TestsDir, "directory holding the test suite")
	flagSet.StringVar(&cfg.StudentDir, "student-dir", cfg.StudentDir, "directory holding the submission")
	flagSet.StringVar(&cfg.ResultsFile, "results-file", cfg.ResultsFile, "path the report is written to")
	flagSet.IntVar(&cfg.MaxParallelTests, "parallel", cfg.MaxParallelTests, "number of tests run concurrently")
	flagSet.StringVar(&cfg.SandboxBackend, "backend", cfg.SandboxBackend, "sandbox backend: local or docker")
	flagSet.BoolVar(&cfg.ShowVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidConfig, err)
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("%w: unexpected argument: %s", pkgerrors.ErrInvalidConfig, rest[0])
	}
	return nil
}

// Validate checks cross-field constraints once every source has been applied.
func (c *Config) Validate() error {
	if c.MaxParallelTests <= 0 {
		return fmt.Errorf("%w: parallelism must be positive, got %d", pkgerrors.ErrInvalidConfig, c.MaxParallelTests)
	}
	switch c.SandboxBackend {
	case "local", "docker":
	default:
		return fmt.Errorf("%w: unknown sandbox backend %q", pkgerrors.ErrInvalidConfig, c.SandboxBackend)
	}
	if c.SandboxUser == "" || c.SandboxUser == "root" {
		return fmt.Errorf("%w: sandbox user must be a non-root account", pkgerrors.ErrInvalidConfig)
	}
	if len(c.SearchPath) == 0 {
		c.SearchPath = []string{c.TestsDir}
	}
	if c.FixturesDir == "" {
		c.FixturesDir = filepath.Join(c.TestsDir, constants.DefaultFixturesDirName)
	}
	return nil
}

func splitSearchPath(s string) []string {
	var out []string
	for _, p := range strings.Split(s, constants.SearchPathSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
