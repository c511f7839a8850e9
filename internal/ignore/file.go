package ignore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFile renders p into dir/name, replacing any previous contents only
// when they differ. It reports whether the file changed.
func WriteFile(fs afero.Fs, dir, name string, p *Policy) (bool, error) {
	if name == "" {
		name = DefaultFileName
	}
	target := filepath.Join(dir, name)
	data := []byte(p.Render())

	existing, err := afero.ReadFile(fs, target)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", target, err)
	}

	tmp := target + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, target); err != nil {
		_ = fs.Remove(tmp)
		return false, fmt.Errorf("failed to replace %s: %w", target, err)
	}
	return true, nil
}

// ReadFile parses the ignore file at dir/name. A missing file yields no
// patterns.
func ReadFile(fs afero.Fs, dir, name string) ([]string, error) {
	if name == "" {
		name = DefaultFileName
	}
	f, err := fs.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Load builds the effective matcher for a project: the policy's patterns
// plus whatever the user added to the ignore file on disk.
func Load(fs afero.Fs, dir string, p *Policy) (*Matcher, error) {
	onDisk, err := ReadFile(fs, dir, DefaultFileName)
	if err != nil {
		return nil, err
	}
	patterns := append(p.Patterns(), onDisk...)
	return NewMatcher(patterns)
}
