package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pensa/internal/app"
	"pensa/internal/domain"
	"pensa/internal/server"
)

var setupOnce sync.Once

func startDaemon(t *testing.T) string {
	t.Helper()
	setupOnce.Do(func() {
		cobra.OnInitialize(initConfig)
		addPersistentFlags()
		registerCommands()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := app.OpenStore(context.Background(), t.TempDir(), nil, logger)
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: st.Engine, DefaultActor: st.Config.Actor.Default, Logger: logger})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(context.Background())
	w.Close()
	os.Stdout = stdout
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), runErr
}

func TestCommandsAgainstDaemon(t *testing.T) {
	url := startDaemon(t)
	common := []string{"--json", "--daemon", url}
	as := func(actor string, args ...string) []string {
		return append(append(args, common...), "--actor", actor)
	}

	out, err := execute(t, as("alice", "create", "Write", "parser", "--type", "task", "-p", "p1")...)
	require.NoError(t, err)
	var parser domain.Issue
	require.NoError(t, json.Unmarshal([]byte(out), &parser))
	assert.Equal(t, "Write parser", parser.Title)
	assert.Equal(t, domain.P1, parser.Priority)

	out, err = execute(t, as("alice", "create", "Parser tests", "--type", "test", "--dep", parser.ID)...)
	require.NoError(t, err)
	var tests domain.Issue
	require.NoError(t, json.Unmarshal([]byte(out), &tests))

	out, err = execute(t, as("alice", "ready")...)
	require.NoError(t, err)
	var ready []domain.Issue
	require.NoError(t, json.Unmarshal([]byte(out), &ready))
	require.Len(t, ready, 1)
	assert.Equal(t, parser.ID, ready[0].ID)

	out, err = execute(t, as("alice", "claim", parser.ID)...)
	require.NoError(t, err)
	var claimed domain.Issue
	require.NoError(t, json.Unmarshal([]byte(out), &claimed))
	require.NotNil(t, claimed.Assignee)
	assert.Equal(t, "alice", *claimed.Assignee)

	_, err = execute(t, as("bob", "claim", parser.ID)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already claimed by alice")

	out, err = execute(t, as("alice", "dep", "tree", parser.ID)...)
	require.NoError(t, err)
	var tree []domain.DepTreeNode
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	require.Len(t, tree, 1)
	assert.Equal(t, tests.ID, tree[0].ID)

	_, err = execute(t, as("alice", "dep", "add", parser.ID, tests.ID)...)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cycle"), "got %v", err)

	out, err = execute(t, as("alice", "doctor")...)
	require.NoError(t, err)
	var report domain.DoctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.StaleClaims, 1)
	assert.Equal(t, parser.ID, report.StaleClaims[0].ID)
}
