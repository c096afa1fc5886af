package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pensa/internal/config"
	"pensa/internal/domain"
	"pensa/internal/engine"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreCreatesWorkspace(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	st, err := OpenStore(ctx, ws, nil, quietLogger())
	require.NoError(t, err)
	defer st.Close()

	require.DirExists(t, filepath.Join(ws, ".pensa"))
	require.FileExists(t, filepath.Join(ws, ".pensa", "db.sqlite"))
	require.Equal(t, config.DefaultActor, st.Config.Actor.Default)

	it, err := st.Engine.CreateIssue(ctx, engine.CreateOptions{Title: "hello", IssueType: domain.TypeTask, Actor: "t"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, it.Status)
}

func TestOpenStoreAutoImportsSnapshot(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	st, err := OpenStore(ctx, src, nil, quietLogger())
	require.NoError(t, err)
	it, err := st.Engine.CreateIssue(ctx, engine.CreateOptions{Title: "carried", IssueType: domain.TypeBug, Actor: "t"})
	require.NoError(t, err)
	_, err = st.Engine.Export(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	clone := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(clone, ".pensa"), 0o755))
	for _, name := range []string{"issues.jsonl", "deps.jsonl", "comments.jsonl"} {
		data, err := os.ReadFile(filepath.Join(src, ".pensa", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(clone, ".pensa", name), data, 0o644))
	}

	st2, err := OpenStore(ctx, clone, nil, quietLogger())
	require.NoError(t, err)
	defer st2.Close()
	got, err := st2.Engine.GetIssue(ctx, it.ID)
	require.NoError(t, err)
	require.Equal(t, "carried", got.Title)
}

func TestOpenStoreRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".pensa"), 0o755))
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("hooks:\n  - url: nope\n"), 0o644))
	_, err := OpenStore(context.Background(), ws, nil, quietLogger())
	require.Error(t, err)
}
