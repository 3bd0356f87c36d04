package packager

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	"github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/utils"
)

type Packager interface {
	PrepareWorkspace(cfg *config.Config, runID string) (*Workspace, error)
	Cleanup(ws *Workspace)
}

// Workspace is the resolved on-disk layout of one grading run.
type Workspace struct {
	RunID       string
	GradeDir    string
	TestsDir    string
	StudentDir  string
	ResultsFile string
	SearchPath  []string
	FixturesDir string

	// ScratchDir is private to the harness and removed by Cleanup.
	ScratchDir string

	// SubmissionDigest is the BLAKE3 digest of the submission before the build.
	SubmissionDigest string
}

type packager struct {
	tempDir string
	logger  *zap.SugaredLogger
}

func NewPackager() Packager {
	return NewPackagerWithTempDir(os.TempDir())
}

func NewPackagerWithTempDir(tempDir string) Packager {
	return &packager{
		tempDir: tempDir,
		logger:  logger.NewNamedLogger("packager"),
	}
}

func (p *packager) PrepareWorkspace(cfg *config.Config, runID string) (*Workspace, error) {
	ws := &Workspace{RunID: runID}

	fixtures := cfg.FixturesDir
	if fixtures == "" {
		fixtures = filepath.Join(cfg.TestsDir, constants.DefaultFixturesDirName)
	}

	paths := []struct {
		dst *string
		src string
	}{
		{&ws.GradeDir, cfg.GradeDir},
		{&ws.TestsDir, cfg.TestsDir},
		{&ws.StudentDir, cfg.StudentDir},
		{&ws.ResultsFile, cfg.ResultsFile},
		{&ws.FixturesDir, fixtures},
	}
	for _, path := range paths {
		abs, err := filepath.Abs(path.src)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %v", errors.ErrWorkspace, path.src, err)
		}
		*path.dst = abs
	}

	searchPath, err := resolveSearchPath(ws.TestsDir, cfg.SearchPath)
	if err != nil {
		return nil, err
	}
	ws.SearchPath = searchPath

	digest, err := DigestDir(ws.StudentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: digest submission: %v", errors.ErrWorkspace, err)
	}
	ws.SubmissionDigest = digest

	scratch, err := os.MkdirTemp(p.tempDir, "autograder-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", errors.ErrWorkspace, err)
	}
	ws.ScratchDir = scratch

	p.logger.Infof("Prepared workspace, submission digest %s [RunID: %s]", digest, runID)
	return ws, nil
}

func (p *packager) Cleanup(ws *Workspace) {
	if ws == nil || ws.ScratchDir == "" {
		return
	}
	if err := utils.RemoveIO(ws.ScratchDir, true, false); err != nil {
		p.logger.Warnf("Failed to remove scratch dir %s: %s [RunID: %s]", ws.ScratchDir, err, ws.RunID)
	}
}

// resolveSearchPath makes every entry absolute and drops duplicates, keeping
// the first occurrence. The tests directory is used when the list is empty.
func resolveSearchPath(testsDir string, entries []string) ([]string, error) {
	if len(entries) == 0 {
		entries = []string{testsDir}
	}

	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve search path entry %s: %v", errors.ErrWorkspace, entry, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out, nil
}

// DigestDir hashes every path below dir together with file contents and
// symlink targets. Walk order is lexical, so the digest is stable.
func DigestDir(dir string) (string, error) {
	hasher := blake3.New()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			writeField(hasher, "l", rel, target)
		case d.IsDir():
			writeField(hasher, "d", rel)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			writeField(hasher, "f", rel)
			var size [8]byte
			binary.BigEndian.PutUint64(size[:], uint64(info.Size()))
			hasher.Write(size[:])

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(hasher, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func writeField(w io.Writer, kind string, parts ...string) {
	io.WriteString(w, kind)
	for _, part := range parts {
		io.WriteString(w, "\x00")
		io.WriteString(w, part)
	}
	io.WriteString(w, "\x00")
}
