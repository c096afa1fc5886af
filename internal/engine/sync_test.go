package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"pensa/internal/domain"
	"pensa/internal/engine"
	"pensa/internal/repo"
	"pensa/internal/snapshot"
)

func seedForSync(t *testing.T, env testEnv) {
	t.Helper()
	bug := env.create(t, "bug", domain.TypeBug, withPriority(domain.P0))
	a := env.create(t, "a", domain.TypeTask, func(o *engine.CreateOptions) {
		o.Description = "line one\nline two"
		o.Spec = "specs/a.md"
	})
	b := env.create(t, "b", domain.TypeTest, func(o *engine.CreateOptions) { o.Deps = []string{a.ID} })
	env.create(t, "c", domain.TypeChore, func(o *engine.CreateOptions) { o.Deps = []string{a.ID, b.ID} })
	// A later issue referenced by an earlier one via fixes.
	fix := env.create(t, "fix bug", domain.TypeTask)
	target := fix.ID
	if _, err := env.Engine.UpdateIssue(env.Ctx, bug.ID, domain.IssuePatch{Fixes: &target}, "tester"); err != nil {
		t.Fatalf("set fixes: %v", err)
	}
	if _, err := env.Engine.ClaimIssue(env.Ctx, a.ID, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.CloseIssue(env.Ctx, b.ID, "green", false, "bob"); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, text := range []string{"first", "second"} {
		if _, err := env.Engine.AddComment(env.Ctx, a.ID, "alice", text); err != nil {
			t.Fatalf("comment: %v", err)
		}
	}
}

type dump struct {
	Issues   []domain.Issue
	Deps     []domain.Dep
	Comments []domain.Comment
}

func dumpStore(t *testing.T, env testEnv) dump {
	t.Helper()
	var d dump
	err := env.Engine.Repo.WithReadTx(env.Ctx, func(q repo.Querier) error {
		var err error
		if d.Issues, err = env.Engine.Repo.AllIssues(env.Ctx, q); err != nil {
			return err
		}
		if d.Deps, err = env.Engine.Repo.AllDeps(env.Ctx, q); err != nil {
			return err
		}
		d.Comments, err = env.Engine.Repo.AllComments(env.Ctx, q)
		return err
	})
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	return d
}

func readSnapshotFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, name := range []string{snapshot.IssuesFile, snapshot.DepsFile, snapshot.CommentsFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		out[name] = string(data)
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	seedForSync(t, env)
	before := dumpStore(t, env)

	res, err := env.Engine.Export(env.Ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res != (domain.SyncResult{Issues: 5, Deps: 3, Comments: 2}) {
		t.Fatalf("unexpected export counts: %+v", res)
	}
	files := readSnapshotFiles(t, env.Engine.Dir)

	// Mutate, then import to restore the exported state.
	extra := env.create(t, "extra", domain.TypeTask)
	res, err = env.Engine.Import(env.Ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Issues != 5 {
		t.Fatalf("unexpected import counts: %+v", res)
	}
	if _, err := env.Engine.GetIssue(env.Ctx, extra.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("import must replace existing rows, got %v", err)
	}
	after := dumpStore(t, env)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip changed the store:\nbefore %+v\nafter  %+v", before, after)
	}

	if _, err := env.Engine.Export(env.Ctx); err != nil {
		t.Fatalf("re-export: %v", err)
	}
	again := readSnapshotFiles(t, env.Engine.Dir)
	if !reflect.DeepEqual(files, again) {
		t.Fatalf("re-export is not byte-identical")
	}
}

func TestImportClearsHistory(t *testing.T) {
	env := newTestEnv(t)
	it := env.create(t, "a", domain.TypeTask)
	if _, err := env.Engine.Export(env.Ctx); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx); err != nil {
		t.Fatalf("import: %v", err)
	}
	history, err := env.Engine.History(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("events are not part of the snapshot, got %+v", history)
	}
}

func TestImportWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Import(env.Ctx); !errors.Is(err, snapshot.ErrNoSnapshot) {
		t.Fatalf("expected no snapshot error, got %v", err)
	}
}

func TestImportRejectsDanglingEdgeAndKeepsStore(t *testing.T) {
	env := newTestEnv(t)
	it := env.create(t, "keep me", domain.TypeTask)
	dir := env.Engine.Dir
	issue := `{"id":"pn-00000001","title":"x","issue_type":"task","status":"open","priority":"p2","created_at":"2025-01-01T00:00:00.000000Z","updated_at":"2025-01-01T00:00:00.000000Z"}` + "\n"
	dep := `{"issue_id":"pn-00000001","depends_on_id":"pn-00000009"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, snapshot.IssuesFile), []byte(issue), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshot.DepsFile), []byte(dep), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx); err == nil {
		t.Fatalf("expected import to fail on dangling edge")
	}
	if _, err := env.Engine.GetIssue(env.Ctx, it.ID); err != nil {
		t.Fatalf("failed import must leave the store untouched: %v", err)
	}
}

func TestImportRejectsBadRowAsValidation(t *testing.T) {
	env := newTestEnv(t)
	row := `{"id":"pn-00000001","title":"x","issue_type":"story","status":"open","priority":"p2","created_at":"2025-01-01T00:00:00.000000Z","updated_at":"2025-01-01T00:00:00.000000Z"}` + "\n"
	if err := os.WriteFile(filepath.Join(env.Engine.Dir, snapshot.IssuesFile), []byte(row), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := env.Engine.Import(env.Ctx)
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "issues" {
		t.Fatalf("expected validation error on issues, got %v", err)
	}
}

func TestAutoImportOnEmptyStore(t *testing.T) {
	src := newTestEnv(t)
	seedForSync(t, src)
	want := dumpStore(t, src)
	if _, err := src.Engine.Export(src.Ctx); err != nil {
		t.Fatalf("export: %v", err)
	}

	// A fresh clone: snapshot files present, database absent.
	clone := t.TempDir()
	if err := os.MkdirAll(filepath.Join(clone, ".pensa"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range readSnapshotFiles(t, src.Engine.Dir) {
		if err := os.WriteFile(filepath.Join(clone, ".pensa", name), []byte(content), 0o644); err != nil {
			t.Fatalf("copy %s: %v", name, err)
		}
	}
	dst := newTestEnvAt(t, clone)
	imported, res, err := dst.Engine.AutoImport(dst.Ctx)
	if err != nil || !imported || res.Issues != 5 {
		t.Fatalf("expected auto import: %v %+v %v", imported, res, err)
	}
	if got := dumpStore(t, dst); !reflect.DeepEqual(want, got) {
		t.Fatalf("auto-imported store differs")
	}

	imported, _, err = dst.Engine.AutoImport(dst.Ctx)
	if err != nil || imported {
		t.Fatalf("non-empty store must not auto import: %v %v", imported, err)
	}
}
