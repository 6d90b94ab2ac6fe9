package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const maxFilenameLength = 255

// PathPolicy decides how the client's file_path is mapped under the root.
type PathPolicy string

const (
	// PolicyConfine treats file_path as a directory relative to the root and
	// rejects anything that would leave it.
	PolicyConfine PathPolicy = "confine"
	// PolicyFlatten ignores file_path and writes every file directly into the root.
	PolicyFlatten PathPolicy = "flatten"
)

// ParsePathPolicy validates a policy name from configuration.
func ParsePathPolicy(name string) (PathPolicy, error) {
	switch PathPolicy(name) {
	case "", PolicyConfine:
		return PolicyConfine, nil
	case PolicyFlatten:
		return PolicyFlatten, nil
	default:
		return "", fmt.Errorf("unknown path policy %q", name)
	}
}

// Destination resolves where a handshake's file may be written.
type Destination struct {
	Root   string
	Policy PathPolicy
	// MkdirAll creates missing directories under the root.
	MkdirAll bool
}

// Resolve returns the absolute path for dir/name under the root. It checks
// the path text only; Open is what enforces confinement on disk.
func (d Destination) Resolve(dir, name string) (string, error) {
	absRoot, rel, err := d.split(dir, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(absRoot, rel), nil
}

// Open creates or truncates dir/name under the root and returns the file with
// its absolute path. Lookups go through an os.Root, so a symlink under the
// root that points outside of it fails with ErrFileAccess.
func (d Destination) Open(dir, name string) (*os.File, string, error) {
	absRoot, rel, err := d.split(dir, name)
	if err != nil {
		return nil, "", err
	}
	root, err := os.OpenRoot(absRoot)
	if err != nil {
		return nil, "", fmt.Errorf("%w: root: %v", ErrFileAccess, err)
	}
	defer root.Close()

	if d.MkdirAll {
		if err := mkdirAll(root, filepath.Dir(rel)); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrFileAccess, err)
		}
	}
	f, err := root.OpenFile(rel, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFileAccess, err)
	}
	return f, filepath.Join(absRoot, rel), nil
}

// split validates dir and name and returns the absolute root plus the
// root-relative OS path of the file.
func (d Destination) split(dir, name string) (string, string, error) {
	if err := validateFilename(name); err != nil {
		return "", "", err
	}
	rel := ""
	if d.Policy != PolicyFlatten {
		clean, err := sanitizeDir(dir)
		if err != nil {
			return "", "", err
		}
		rel = clean
	}

	root := d.Root
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("%w: root: %v", ErrFileAccess, err)
	}
	final := filepath.Join(absRoot, filepath.FromSlash(rel), name)
	if !within(absRoot, final) {
		return "", "", fmt.Errorf("%w: %q escapes root", ErrUnsafePath, path.Join(rel, name))
	}
	relOS, err := filepath.Rel(absRoot, final)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	return absRoot, relOS, nil
}

// mkdirAll creates each missing component of dir inside root.
func mkdirAll(root *os.Root, dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		if err := root.Mkdir(cur, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

func validateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: filename %q", ErrUnsafePath, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: filename %q contains a separator", ErrUnsafePath, name)
	case len(name) > maxFilenameLength:
		return fmt.Errorf("%w: filename longer than %d bytes", ErrUnsafePath, maxFilenameLength)
	}
	return nil
}

// sanitizeDir returns a cleaned slash-separated relative directory, or "" for
// the root itself.
func sanitizeDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" || dir == "." {
		return "", nil
	}
	if strings.ContainsAny(dir, "\\\x00") {
		return "", fmt.Errorf("%w: directory %q", ErrUnsafePath, dir)
	}
	if strings.HasPrefix(dir, "/") || filepath.IsAbs(dir) || filepath.VolumeName(dir) != "" {
		return "", fmt.Errorf("%w: absolute directory %q", ErrUnsafePath, dir)
	}
	if len(dir) >= 2 && dir[1] == ':' {
		return "", fmt.Errorf("%w: drive directory %q", ErrUnsafePath, dir)
	}
	clean := path.Clean(dir)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: directory %q leaves root", ErrUnsafePath, dir)
	}
	return clean, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
