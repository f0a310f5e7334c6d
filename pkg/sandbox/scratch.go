package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// scratch is the working directory of one execution
type scratch struct {
	dir string
}

func newScratch(root string) (*scratch, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "kosmo-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &scratch{dir: dir}, nil
}

// path resolves a file name inside the scratch dir. Names that would escape
// it are rejected.
func (s *scratch) path(name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file name escapes the sandbox: %s", name)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *scratch) write(files map[string][]byte) error {
	for name, data := range files {
		p, err := s.path(name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// collect reads the named files that exist; missing ones are skipped
func (s *scratch) collect(names []string) (map[string][]byte, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		p, err := s.path(name)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func (s *scratch) remove() {
	_ = os.RemoveAll(s.dir)
}

// limitedBuffer keeps the first max bytes written and drops the rest
type limitedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		b.buf = append(b.buf, p...)
		return len(p), nil
	}
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf
}
