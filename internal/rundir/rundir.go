// Package rundir manages per-run directories under the configured runs
// root. Each run gets a unique directory holding the state file, scratch
// files, workflow edit files, agent logs, and run metadata.
package rundir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

const (
	editsDirName    = "edits"
	rejectedDirName = "rejected"
	logsDirName     = "logs"
	stateFileName   = "state.json"
	summaryFileName = "summary.log"
	metaFileName    = "metadata.json"
)

// Dir is a handle to a single run directory.
type Dir struct {
	path string
}

// Create makes a new unique run directory under root, named
// <YYYYMMDDTHHMMSS>_<uuid8>, with edits/ and logs/ subdirectories.
func Create(root string) (*Dir, error) {
	name := fmt.Sprintf("%s_%s",
		time.Now().UTC().Format("20060102T150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	path := filepath.Join(root, name)
	for _, dir := range []string{
		path,
		filepath.Join(path, editsDirName),
		filepath.Join(path, logsDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
	}
	return &Dir{path: path}, nil
}

// Open returns a handle to an existing run directory, used by --resume.
// The directory must already contain a state file.
func Open(path string) (*Dir, error) {
	d := &Dir{path: path}
	if _, err := os.Stat(d.StatePath()); err != nil {
		return nil, fmt.Errorf("not a resumable run directory %s: %w", path, err)
	}
	return d, nil
}

// Latest returns the most recent run directory under root, or an error
// when none exist. Directory names sort lexicographically by timestamp.
func Latest(root string) (*Dir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no runs found under %s", root)
	}
	sort.Strings(names)
	return &Dir{path: filepath.Join(root, names[len(names)-1])}, nil
}

// Path returns the absolute or relative path of the run directory.
func (d *Dir) Path() string { return d.path }

// StatePath returns the path of the shared state file.
func (d *Dir) StatePath() string { return filepath.Join(d.path, stateFileName) }

// EditPath returns the path where a worker's agent writes workflow edits
// for the given story.
func (d *Dir) EditPath(storyID string) string {
	return filepath.Join(d.path, editsDirName, storyID+".json")
}

// LogPath returns the path of the JSONL agent log for one step, creating
// the per-story log directory.
func (d *Dir) LogPath(storyID, stepID string) (string, error) {
	dir := filepath.Join(d.path, logsDirName, storyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return filepath.Join(dir, stepID+".jsonl"), nil
}

// DiffPath returns the path where the uncommitted diff of a failed or
// restarted step is saved, creating the per-story log directory.
func (d *Dir) DiffPath(storyID, stepID string) (string, error) {
	dir := filepath.Join(d.path, logsDirName, storyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return filepath.Join(dir, stepID+".diff"), nil
}

// QuarantineEdit moves a story's edit file to edits/rejected/ so rejected
// or malformed edits stay inspectable. A timestamp suffix keeps repeated
// rejections for the same story from clobbering each other. Returns the
// new path, or "" when no edit file exists.
func (d *Dir) QuarantineEdit(storyID string) (string, error) {
	src := d.EditPath(storyID)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	rejectedDir := filepath.Join(d.path, editsDirName, rejectedDirName)
	if err := os.MkdirAll(rejectedDir, 0o755); err != nil {
		return "", fmt.Errorf("creating rejected edits directory: %w", err)
	}
	dst := filepath.Join(rejectedDir,
		fmt.Sprintf("%s_%s.json", storyID, time.Now().UTC().Format("20060102T150405")))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("quarantining edit file: %w", err)
	}
	return dst, nil
}

// RemoveEdit deletes a story's edit file after its operations have been
// applied. Missing files are not an error.
func (d *Dir) RemoveEdit(storyID string) error {
	err := os.Remove(d.EditPath(storyID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AppendSummary appends a timestamped one-line entry to summary.log.
// Newlines in the message are flattened so the log stays one line per event.
func (d *Dir) AppendSummary(message string) error {
	clean := strings.NewReplacer("\n", " ", "\r", "").Replace(message)
	line := fmt.Sprintf("[%s UTC] %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"), clean)
	f, err := os.OpenFile(filepath.Join(d.path, summaryFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening summary log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending summary: %w", err)
	}
	return nil
}

// Metadata captures the environment a run started in, written once at
// startup for post-run analysis. Callers fill the git fields; everything
// else is collected here.
type Metadata struct {
	Timestamp  string            `json:"timestamp"`
	Hostname   string            `json:"hostname"`
	GoVersion  string            `json:"go_version"`
	GitBranch  string            `json:"git_branch"`
	GitSHA     string            `json:"git_sha"`
	Image      string            `json:"image"`
	EnvVars    map[string]string `json:"env_vars"`
	Parallel   int               `json:"parallelism"`
	BaseBranch string            `json:"base_branch"`
}

// WriteMetadata fills in host-derived fields and writes metadata.json.
// All DROVER_* environment variables are recorded.
func (d *Dir) WriteMetadata(meta Metadata) error {
	meta.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if hostname, err := os.Hostname(); err == nil {
		meta.Hostname = hostname
	}
	meta.GoVersion = runtime.Version()
	meta.EnvVars = map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, "DROVER_") {
			meta.EnvVars[key] = value
		}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(d.path, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// artifactPatterns are the globs CollectArtifacts matches, relative to
// the run directory.
var artifactPatterns = []string{
	"state.json",
	"summary.log",
	"metadata.json",
	"scratch*.md",
	"archive/scratch*.md",
	"edits/**/*.json",
	"logs/**/*.jsonl",
	"logs/**/*.diff",
}

// CollectArtifacts returns the relative paths of all run artifacts,
// sorted, for status reporting.
func (d *Dir) CollectArtifacts() ([]string, error) {
	fsys := os.DirFS(d.path)
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range artifactPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
