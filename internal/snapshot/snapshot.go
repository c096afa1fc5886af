// Package snapshot reads and writes the line-delimited JSON files that are
// committed alongside a project: one object per line, in a stable order, so
// that exporting unchanged data yields byte-identical files.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"pensa/internal/domain"
)

const (
	IssuesFile   = "issues.jsonl"
	DepsFile     = "deps.jsonl"
	CommentsFile = "comments.jsonl"
)

var ErrNoSnapshot = errors.New("no snapshot found")

type Snapshot struct {
	Issues   []domain.Issue
	Deps     []domain.Dep
	Comments []domain.Comment
}

func (s Snapshot) Counts() domain.SyncResult {
	return domain.SyncResult{Issues: len(s.Issues), Deps: len(s.Deps), Comments: len(s.Comments)}
}

// Exists reports whether dir holds an issues file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, IssuesFile))
	return err == nil
}

// Sort puts every record in snapshot order in place.
func (s *Snapshot) Sort() {
	sort.SliceStable(s.Issues, func(i, j int) bool {
		a, b := s.Issues[i], s.Issues[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.Deps, func(i, j int) bool {
		a, b := s.Deps[i], s.Deps[j]
		if a.IssueID != b.IssueID {
			return a.IssueID < b.IssueID
		}
		return a.DependsOnID < b.DependsOnID
	})
	sort.SliceStable(s.Comments, func(i, j int) bool {
		a, b := s.Comments[i], s.Comments[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// Write sorts the snapshot and replaces the three files in dir. Each file is
// written to a temporary name and renamed into place.
func Write(dir string, s Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.Sort()
	var g errgroup.Group
	g.Go(func() error { return writeJSONL(filepath.Join(dir, IssuesFile), s.Issues) })
	g.Go(func() error { return writeJSONL(filepath.Join(dir, DepsFile), s.Deps) })
	g.Go(func() error { return writeJSONL(filepath.Join(dir, CommentsFile), s.Comments) })
	return g.Wait()
}

func writeJSONL[T any](path string, items []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads the snapshot from dir. A missing issues file is ErrNoSnapshot;
// missing deps or comments files read as empty.
func Read(dir string) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.Issues, err = readJSONL[domain.Issue](filepath.Join(dir, IssuesFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, fmt.Errorf("%w in %s", ErrNoSnapshot, dir)
		}
		return s, err
	}
	if s.Deps, err = readJSONL[domain.Dep](filepath.Join(dir, DepsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s, err
	}
	if s.Comments, err = readJSONL[domain.Comment](filepath.Join(dir, CommentsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s, err
	}
	if s.Deps == nil {
		s.Deps = []domain.Dep{}
	}
	if s.Comments == nil {
		s.Comments = []domain.Comment{}
	}
	return s, nil
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := []T{}
	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		raw, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			var v T
			if uerr := json.Unmarshal(raw, &v); uerr != nil {
				return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, uerr)
			}
			out = append(out, v)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
