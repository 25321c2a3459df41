package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// ErrNoLog is returned when no transcript exists yet for a working directory.
var ErrNoLog = errors.New("no transcript log found")

// Locator finds transcript files under a projects directory laid out as
// <projects>/<encoded work dir>/<session id>.jsonl.
type Locator struct {
	ProjectsDir string
}

// EncodeProjectDir maps a working directory to its project folder name.
func EncodeProjectDir(workDir string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '-'
	}, workDir)
}

// LogPath returns the most recently modified transcript for workDir.
func (l Locator) LogPath(workDir string) (string, error) {
	if l.ProjectsDir == "" {
		return "", ErrNoLog
	}
	abs, err := filepath.Abs(workDir)
	if err == nil {
		workDir = abs
	}

	pattern := filepath.Join(l.ProjectsDir, EncodeProjectDir(workDir), "*.jsonl")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if best == "" || fi.ModTime().After(bestMod) {
			best = m
			bestMod = fi.ModTime()
		}
	}
	if best == "" {
		return "", ErrNoLog
	}
	return best, nil
}
