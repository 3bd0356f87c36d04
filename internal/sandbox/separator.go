package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
)

var aclPermsRegex = regexp.MustCompile(`^[rwxX-]{1,4}$`)

// Layout is the set of paths whose access is fixed before any untrusted code runs.
type Layout struct {
	GradeDir   string
	TestsDir   string
	StudentDir string
	ResultsDir string
	SearchPath []string

	// FixturesDir holds instructor data the graded program reads at run time.
	// It is readable by the restricted user even when it lies inside TestsDir.
	FixturesDir string

	// Grants maps ACL permissions ("r", "rx", "rwX") to extra paths the restricted user may access.
	Grants map[string][]string
}

// Hooks replaces the operating system calls made by the separator.
type Hooks struct {
	Geteuid    func() int
	LookupUser func(name string) (*user.User, error)
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	Chown      func(path string, uid, gid int) error
	Chmod      func(path string, mode os.FileMode) error
}

type PrivilegeSeparator interface {
	// Setup resolves the restricted identity and applies filesystem access control.
	// It runs once per grading run; grants are never changed afterwards.
	Setup(ctx context.Context, layout Layout) (Identity, error)
}

type privilegeSeparator struct {
	userName   string
	createUser bool
	hooks      Hooks
	logger     *zap.SugaredLogger
}

func NewPrivilegeSeparator(userName string, createUser bool) PrivilegeSeparator {
	return NewPrivilegeSeparatorWithHooks(userName, createUser, Hooks{})
}

func NewPrivilegeSeparatorWithHooks(userName string, createUser bool, hooks Hooks) PrivilegeSeparator {
	if hooks.Geteuid == nil {
		hooks.Geteuid = os.Geteuid
	}
	if hooks.LookupUser == nil {
		hooks.LookupUser = user.Lookup
	}
	if hooks.RunCommand == nil {
		hooks.RunCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	if hooks.Chown == nil {
		hooks.Chown = os.Lchown
	}
	if hooks.Chmod == nil {
		hooks.Chmod = os.Chmod
	}
	return &privilegeSeparator{
		userName:   userName,
		createUser: createUser,
		hooks:      hooks,
		logger:     logger.NewNamedLogger("privilege-separator"),
	}
}

func setupErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pkgerrors.ErrPermissionSetup, fmt.Sprintf(format, args...))
}

func (p *privilegeSeparator) Setup(ctx context.Context, layout Layout) (Identity, error) {
	if euid := p.hooks.Geteuid(); euid != 0 {
		return Identity{}, setupErr("harness must run as root, running as uid %d", euid)
	}

	identity, err := p.resolveIdentity(ctx)
	if err != nil {
		return Identity{}, err
	}
	p.logger.Infof("Running untrusted code as %s (uid %d, gid %d)", identity.Name, identity.UID, identity.GID)

	if err := p.lockDown(layout); err != nil {
		return Identity{}, err
	}
	if err := p.handOverSubmission(layout.StudentDir, identity); err != nil {
		return Identity{}, err
	}
	if err := p.applyACLs(ctx, layout); err != nil {
		return Identity{}, err
	}

	return identity, nil
}

func (p *privilegeSeparator) resolveIdentity(ctx context.Context) (Identity, error) {
	u, err := p.hooks.LookupUser(p.userName)
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) && p.createUser {
		p.logger.Infof("Creating restricted user %s", p.userName)
		out, runErr := p.hooks.RunCommand(ctx, "useradd",
			"--system", "--no-create-home", "--user-group", "--shell", "/usr/sbin/nologin", p.userName)
		if runErr != nil {
			return Identity{}, setupErr("useradd %s: %v: %s", p.userName, runErr, strings.TrimSpace(string(out)))
		}
		u, err = p.hooks.LookupUser(p.userName)
	}
	if err != nil {
		return Identity{}, setupErr("lookup user %s: %v", p.userName, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, setupErr("user %s has non-numeric uid %q", p.userName, u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Identity{}, setupErr("user %s has non-numeric gid %q", p.userName, u.Gid)
	}
	if uid == 0 {
		return Identity{}, setupErr("user %s maps to uid 0", p.userName)
	}
	return Identity{Name: u.Username, UID: uint32(uid), GID: uint32(gid)}, nil
}

// lockDown leaves the grade root and tests traversable only, and the results
// directory private to the harness.
func (p *privilegeSeparator) lockDown(layout Layout) error {
	for _, dir := range []string{layout.GradeDir, layout.TestsDir} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := p.hooks.Chmod(dir, constants.GradeDirMode); err != nil {
			return setupErr("chmod %s: %v", dir, err)
		}
	}

	if err := os.MkdirAll(layout.ResultsDir, constants.ResultsDirMode); err != nil {
		return setupErr("create results dir %s: %v", layout.ResultsDir, err)
	}
	if err := p.hooks.Chmod(layout.ResultsDir, constants.ResultsDirMode); err != nil {
		return setupErr("chmod %s: %v", layout.ResultsDir, err)
	}
	return nil
}

func (p *privilegeSeparator) handOverSubmission(dir string, identity Identity) error {
	info, err := os.Stat(dir)
	if err != nil {
		return setupErr("submission dir %s: %v", dir, err)
	}
	if !info.IsDir() {
		return setupErr("submission path %s is not a directory", dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := p.hooks.Chown(path, int(identity.UID), int(identity.GID)); err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return p.hooks.Chmod(path, constants.SubmissionDirMode)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return p.hooks.Chmod(path, info.Mode().Perm()|0o600)
	})
	if err != nil {
		return setupErr("hand over %s to %s: %v", dir, identity.Name, err)
	}
	return nil
}

// applyACLs denies the restricted user the tests directory, then grants read
// access to shared search-path directories, the fixtures and the suite's extra grants.
func (p *privilegeSeparator) applyACLs(ctx context.Context, layout Layout) error {
	fixtures := p.fixturesDir(layout)
	if layout.TestsDir != "" {
		if err := p.setfacl(ctx, "---", layout.TestsDir); err != nil {
			return err
		}
		reachable := layout.Grants
		if fixtures != "" {
			reachable = make(map[string][]string, len(layout.Grants)+1)
			for perm, paths := range layout.Grants {
				reachable[perm] = paths
			}
			reachable["rX"] = append(append([]string(nil), layout.Grants["rX"]...), fixtures)
		}
		if err := p.allowTraversal(ctx, layout.TestsDir, reachable); err != nil {
			return err
		}
	}

	var shared []string
	for _, dir := range layout.SearchPath {
		if filepath.Clean(dir) == filepath.Clean(layout.TestsDir) {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			p.logger.Warnf("Search path entry %s is not accessible: %s", dir, err)
			continue
		}
		shared = append(shared, dir)
	}
	if fixtures != "" && !slices.Contains(shared, fixtures) {
		shared = append(shared, fixtures)
	}
	if len(shared) > 0 {
		if err := p.setfacl(ctx, "rX", shared...); err != nil {
			return err
		}
	}

	perms := make([]string, 0, len(layout.Grants))
	for perm := range layout.Grants {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	for _, perm := range perms {
		if !aclPermsRegex.MatchString(perm) {
			return setupErr("invalid permissions %q in files_accessible", perm)
		}
		if paths := layout.Grants[perm]; len(paths) > 0 {
			if err := p.setfacl(ctx, perm, paths...); err != nil {
				return err
			}
		}
	}
	return nil
}

// fixturesDir returns the fixtures directory when it exists. The tests
// directory itself never qualifies.
func (p *privilegeSeparator) fixturesDir(layout Layout) string {
	if layout.FixturesDir == "" {
		return ""
	}
	dir := filepath.Clean(layout.FixturesDir)
	if dir == filepath.Clean(layout.TestsDir) {
		p.logger.Warnf("Fixtures directory %s is the tests directory, not granting access", dir)
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		p.logger.Debugf("No fixtures directory at %s", dir)
		return ""
	}
	return dir
}

// allowTraversal grants execute-only access on the directories between root and
// every granted path below it, so the grant is reachable.
func (p *privilegeSeparator) allowTraversal(ctx context.Context, root string, grants map[string][]string) error {
	root = filepath.Clean(root)
	seen := make(map[string]bool)
	var dirs []string
	for _, paths := range grants {
		for _, path := range paths {
			rel, err := filepath.Rel(root, filepath.Clean(path))
			if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
				continue
			}
			dir := root
			for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
				if !seen[dir] {
					seen[dir] = true
					dirs = append(dirs, dir)
				}
				if part == "." {
					break
				}
				dir = filepath.Join(dir, part)
			}
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	sort.Strings(dirs)
	return p.runSetfacl(ctx, append([]string{"-m", fmt.Sprintf("u:%s:--x", p.userName)}, dirs...))
}

func (p *privilegeSeparator) setfacl(ctx context.Context, perms string, paths ...string) error {
	return p.runSetfacl(ctx, append([]string{"-R", "-m", fmt.Sprintf("u:%s:%s", p.userName, perms)}, paths...))
}

func (p *privilegeSeparator) runSetfacl(ctx context.Context, args []string) error {
	out, err := p.hooks.RunCommand(ctx, "setfacl", args...)
	if err != nil {
		return setupErr("setfacl %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
