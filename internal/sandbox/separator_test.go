package sandbox_test

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/mfbutner/pl-autograders/internal/sandbox"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/tests"
)

type fakeSystem struct {
	euid     int
	users    map[string]*user.User
	commands []string
	failOn   string
	chowned  []string
	chmodded map[string]os.FileMode
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		users: map[string]*user.User{
			"sbuser": {Username: "sbuser", Uid: "1001", Gid: "1001"},
		},
		chmodded: map[string]os.FileMode{},
	}
}

func (f *fakeSystem) hooks() Hooks {
	return Hooks{
		Geteuid: func() int { return f.euid },
		LookupUser: func(name string) (*user.User, error) {
			if u, ok := f.users[name]; ok {
				return u, nil
			}
			return nil, user.UnknownUserError(name)
		},
		RunCommand: func(_ context.Context, name string, args ...string) ([]byte, error) {
			line := name + " " + strings.Join(args, " ")
			f.commands = append(f.commands, line)
			if f.failOn != "" && strings.HasPrefix(line, f.failOn) {
				return []byte("operation not supported"), errors.New("exit status 1")
			}
			if name == "useradd" {
				u := args[len(args)-1]
				f.users[u] = &user.User{Username: u, Uid: "999", Gid: "999"}
			}
			return nil, nil
		},
		Chown: func(path string, uid, gid int) error {
			f.chowned = append(f.chowned, path)
			return nil
		},
		Chmod: func(path string, mode os.FileMode) error {
			f.chmodded[path] = mode
			return nil
		},
	}
}

func newLayout(t *testing.T) Layout {
	grade := t.TempDir()
	tests.WriteFile(t, grade, "tests/suite.yaml", "tests: []")
	tests.WriteFile(t, grade, "tests/data/in/1.txt", "1 2")
	tests.WriteFile(t, grade, "tests/fixtures/words.txt", "alpha")
	tests.WriteFile(t, grade, "student/main.c", "int main(void){return 0;}")
	tests.WriteFile(t, grade, "student/src/util.c", "")
	shared := t.TempDir()

	return Layout{
		GradeDir:   grade,
		TestsDir:   filepath.Join(grade, "tests"),
		StudentDir: filepath.Join(grade, "student"),
		ResultsDir: filepath.Join(grade, "results"),
		SearchPath: []string{filepath.Join(grade, "tests"), shared},

		FixturesDir: filepath.Join(grade, "tests", "fixtures"),
		Grants: map[string][]string{
			"r": {filepath.Join(grade, "tests", "data", "in", "1.txt")},
		},
	}
}

func TestPrivilegeSeparator_Setup(t *testing.T) {
	fake := newFakeSystem()
	layout := newLayout(t)

	identity, err := NewPrivilegeSeparatorWithHooks("sbuser", false, fake.hooks()).Setup(context.Background(), layout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Name != "sbuser" || identity.UID != 1001 || identity.GID != 1001 {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if fake.chmodded[layout.GradeDir] != 0o711 {
		t.Errorf("grade dir mode = %o, want 711", fake.chmodded[layout.GradeDir])
	}
	if fake.chmodded[layout.ResultsDir] != 0o700 {
		t.Errorf("results dir mode = %o, want 700", fake.chmodded[layout.ResultsDir])
	}
	if info, err := os.Stat(layout.ResultsDir); err != nil || !info.IsDir() {
		t.Errorf("results dir was not created: %v", err)
	}

	// student dir, main.c, src, src/util.c
	if len(fake.chowned) != 4 {
		t.Errorf("expected 4 chowned paths, got %v", fake.chowned)
	}

	want := []string{
		"setfacl -R -m u:sbuser:--- " + layout.TestsDir,
		"setfacl -m u:sbuser:--x " + strings.Join([]string{
			layout.TestsDir,
			filepath.Join(layout.TestsDir, "data"),
			filepath.Join(layout.TestsDir, "data", "in"),
		}, " "),
		"setfacl -R -m u:sbuser:rX " + layout.SearchPath[1] + " " + layout.FixturesDir,
		"setfacl -R -m u:sbuser:r " + layout.Grants["r"][0],
	}
	if len(fake.commands) != len(want) {
		t.Fatalf("unexpected commands:\n%s", strings.Join(fake.commands, "\n"))
	}
	for i := range want {
		if fake.commands[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, fake.commands[i], want[i])
		}
	}
}

func TestPrivilegeSeparator_FixturesGrant(t *testing.T) {
	cases := []struct {
		name     string
		fixtures func(l Layout) string
		granted  string
	}{
		{
			name:     "missing fixtures dir is skipped",
			fixtures: func(l Layout) string { return filepath.Join(l.TestsDir, "absent") },
			granted:  "{shared}",
		},
		{
			name:     "tests dir is never granted",
			fixtures: func(l Layout) string { return l.TestsDir },
			granted:  "{shared}",
		},
		{
			name:     "fixtures outside tests need no traversal",
			fixtures: func(l Layout) string { return filepath.Join(l.GradeDir, "data") },
			granted:  "{shared} {fixtures}",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeSystem()
			layout := newLayout(t)
			layout.Grants = nil
			tests.WriteFile(t, layout.GradeDir, "data/table.csv", "1,2")
			layout.FixturesDir = tc.fixtures(layout)

			if _, err := NewPrivilegeSeparatorWithHooks("sbuser", false, fake.hooks()).Setup(context.Background(), layout); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			granted := strings.NewReplacer("{shared}", layout.SearchPath[1], "{fixtures}", layout.FixturesDir).Replace(tc.granted)
			want := []string{
				"setfacl -R -m u:sbuser:--- " + layout.TestsDir,
				"setfacl -R -m u:sbuser:rX " + granted,
			}
			if strings.Join(fake.commands, "\n") != strings.Join(want, "\n") {
				t.Fatalf("commands:\n%s\nwant:\n%s", strings.Join(fake.commands, "\n"), strings.Join(want, "\n"))
			}
		})
	}
}

func TestPrivilegeSeparator_CreatesMissingUser(t *testing.T) {
	fake := newFakeSystem()
	layout := newLayout(t)

	identity, err := NewPrivilegeSeparatorWithHooks("grader", true, fake.hooks()).Setup(context.Background(), layout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.UID != 999 {
		t.Fatalf("expected created user, got %+v", identity)
	}
	if !strings.HasPrefix(fake.commands[0], "useradd --system") {
		t.Fatalf("expected useradd first, got %v", fake.commands)
	}
}

func TestPrivilegeSeparator_Failures(t *testing.T) {
	cases := []struct {
		name   string
		user   string
		create bool
		mutate func(f *fakeSystem, l *Layout)
	}{
		{
			name:   "not root",
			user:   "sbuser",
			mutate: func(f *fakeSystem, _ *Layout) { f.euid = 1000 },
		},
		{
			name: "unknown user without creation",
			user: "ghost",
		},
		{
			name:   "useradd fails",
			user:   "ghost",
			create: true,
			mutate: func(f *fakeSystem, _ *Layout) { f.failOn = "useradd" },
		},
		{
			name: "user maps to root",
			user: "toor",
			mutate: func(f *fakeSystem, _ *Layout) {
				f.users["toor"] = &user.User{Username: "toor", Uid: "0", Gid: "0"}
			},
		},
		{
			name:   "missing submission",
			user:   "sbuser",
			mutate: func(_ *fakeSystem, l *Layout) { l.StudentDir = filepath.Join(l.GradeDir, "nope") },
		},
		{
			name:   "setfacl unsupported",
			user:   "sbuser",
			mutate: func(f *fakeSystem, _ *Layout) { f.failOn = "setfacl" },
		},
		{
			name: "invalid grant permissions",
			user: "sbuser",
			mutate: func(_ *fakeSystem, l *Layout) {
				l.Grants = map[string][]string{"rw; rm -rf /": {l.TestsDir}}
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSystem()
			layout := newLayout(t)
			if tt.mutate != nil {
				tt.mutate(fake, &layout)
			}
			_, err := NewPrivilegeSeparatorWithHooks(tt.user, tt.create, fake.hooks()).Setup(context.Background(), layout)
			if !errors.Is(err, pkgerrors.ErrPermissionSetup) {
				t.Fatalf("expected ErrPermissionSetup, got %v", err)
			}
		})
	}
}
