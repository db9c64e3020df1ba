package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calbridge/internal/auth"
	"github.com/tonimelisma/calbridge/internal/calendar"
	"github.com/tonimelisma/calbridge/internal/config"
	"github.com/tonimelisma/calbridge/internal/jobs"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either:
//   - Set globals AFTER newRootCmd() returns (direct function tests), or
//   - Use cmd.SetArgs() + cmd.Execute() to let Cobra parse flags.

// saveGlobals restores the CLI globals a test touches.
func saveGlobals(t *testing.T) {
	t.Helper()

	oldVerbose, oldQuiet, oldJSON := flagVerbose, flagQuiet, flagJSON
	oldCfg, oldPath := resolvedCfg, resolvedPath

	t.Cleanup(func() {
		flagVerbose, flagQuiet, flagJSON = oldVerbose, oldQuiet, oldJSON
		resolvedCfg, resolvedPath = oldCfg, oldPath
	})
}

// --- newLogger tests ---

func TestNewLogger_Default(t *testing.T) {
	saveGlobals(t)

	flagVerbose, flagQuiet = false, false
	resolvedCfg = nil

	logger := newLogger(io.Discard, true)

	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestNewLogger_ConfigLevel(t *testing.T) {
	saveGlobals(t)

	flagVerbose, flagQuiet = false, false
	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "info"

	logger := newLogger(io.Discard, true)

	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_FlagsOverrideConfig(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "error"

	flagVerbose, flagQuiet = true, false
	assert.True(t, newLogger(io.Discard, true).Enabled(context.Background(), slog.LevelDebug))

	resolvedCfg.Logging.LogLevel = "debug"

	flagVerbose, flagQuiet = false, true
	logger := newLogger(io.Discard, true)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestNewLogger_Format(t *testing.T) {
	saveGlobals(t)

	flagVerbose, flagQuiet = false, false
	resolvedCfg = config.DefaultConfig()

	tests := []struct {
		name     string
		format   string
		terminal bool
		wantJSON bool
	}{
		{"auto at terminal", config.LogFormatAuto, true, false},
		{"auto piped", config.LogFormatAuto, false, true},
		{"text piped", config.LogFormatText, false, false},
		{"json at terminal", config.LogFormatJSON, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolvedCfg.Logging.LogFormat = tt.format

			var buf bytes.Buffer
			newLogger(&buf, tt.terminal).Warn("hello", slog.String("user", "u1"))

			assert.Equal(t, tt.wantJSON, json.Valid(bytes.TrimSpace(buf.Bytes())), buf.String())
			assert.Contains(t, buf.String(), "u1")
		})
	}
}

// --- command tree tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"connect", "disconnect", "status", "events", "import",
		"export", "poll", "sheets", "worker", "config",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "user", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}

	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "q", cmd.PersistentFlags().Lookup("quiet").Shorthand)
}

func TestNewRootCmd_VerboseQuietExclusive(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"events", "template", "--verbose", "--quiet"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestEventsTemplate_SkipsConfig(t *testing.T) {
	saveGlobals(t)
	t.Setenv("CALBRIDGE_CONFIG", t.TempDir()+"/missing/config.toml")

	resolvedCfg = nil

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"events", "template"})

	require.NoError(t, cmd.Execute())
	assert.Nil(t, resolvedCfg)
	assert.Contains(t, out.String(), "Title,Description,Start Time,End Time,Location,Attendees")
}

func TestSkipConfigCommands_UsesCommandPath(t *testing.T) {
	cmd := newRootCmd()

	found, _, err := cmd.Find([]string{"events", "template"})
	require.NoError(t, err)
	assert.True(t, skipConfigCommands[found.CommandPath()])

	found, _, err = cmd.Find([]string{"events", "list"})
	require.NoError(t, err)
	assert.False(t, skipConfigCommands[found.CommandPath()])
}

// --- helper tests ---

func TestTokenState(t *testing.T) {
	tests := []struct {
		name string
		st   auth.Status
		want string
	}{
		{"valid", auth.Status{Connected: true, HasRefreshToken: true, Valid: true}, tokenStateValid},
		{"refreshable", auth.Status{Connected: true, HasRefreshToken: true}, tokenStateRefreshes},
		{"refresh token only", auth.Status{HasRefreshToken: true}, tokenStateRefreshes},
		{"expired", auth.Status{Connected: true}, tokenStateExpired},
		{"missing", auth.Status{}, tokenStateMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenState(tt.st))
		})
	}
}

func TestPatchFromFlags_OnlyChanged(t *testing.T) {
	cmd := newEventsUpdateCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--title", "Renamed", "--location", ""}))

	p := patchFromFlags(cmd)

	require.NotNil(t, p.Title)
	assert.Equal(t, "Renamed", *p.Title)
	require.NotNil(t, p.Location)
	assert.Empty(t, *p.Location)
	assert.Nil(t, p.Start)
	assert.Nil(t, p.End)
	assert.Nil(t, p.Description)
	assert.Nil(t, p.Attendees)
	assert.Nil(t, p.ColorID)
}

func TestRedactSecret(t *testing.T) {
	assert.Empty(t, redactSecret(""))
	assert.Equal(t, "<redacted>", redactSecret("hunter2"))
}

func TestCurrentUser(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = nil
	assert.Empty(t, currentUser())

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Auth.User = "u1"
	assert.Equal(t, "u1", currentUser())
}

func TestExportPayload_Flags(t *testing.T) {
	cmd := newExportCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--filter", "Past", "--format", "PDF", "--to", "a@example.com", "--to", "b@example.com"}))

	p, err := exportPayload(cmd)
	require.NoError(t, err)
	assert.Equal(t, calendar.ExportPayload{
		Filter: "past",
		Format: "pdf",
		To:     []string{"a@example.com", "b@example.com"},
	}, p)

	cmd = newExportCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--to", "a@example.com"}))

	p, err = exportPayload(cmd)
	require.NoError(t, err)
	assert.Equal(t, "all", p.Filter)
	assert.Equal(t, "csv", p.Format)

	cmd = newExportCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--format", "docx", "--to", "a@example.com"}))

	_, err = exportPayload(cmd)
	require.ErrorIs(t, err, calendar.ErrInvalidFormat)
}

func TestCheckKeyOwner(t *testing.T) {
	own := jobs.NewKey(jobs.KeyPrefix(calendar.KindExport), "u1", time.Unix(1760436000, 0))
	other := jobs.NewKey(jobs.KeyPrefix(calendar.KindExport), "u2", time.Unix(1760436000, 0))

	require.NoError(t, checkKeyOwner(own, "u1"))
	require.ErrorIs(t, checkKeyOwner(other, "u1"), errForeignKey)

	// Unrecognized keys are passed through to the store.
	require.NoError(t, checkKeyOwner("not-a-job-key", "u1"))
}

func TestRunPoll_RejectsOtherUsersKey(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = memoryConfig()

	cmd := newPollCmd()
	cmd.SetContext(context.Background())

	key := jobs.NewKey(jobs.KeyPrefix(calendar.KindImport), "someone-else", time.Now())

	err := runPoll(cmd, []string{key})
	require.ErrorIs(t, err, errForeignKey)
}

// --- job waiting tests ---

type fakePollSource struct {
	mu      sync.Mutex
	pending int
	result  *jobs.Result
	err     error
}

func (f *fakePollSource) Poll(_ context.Context, _ string) (jobs.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return jobs.Poll{}, f.err
	}

	if f.pending > 0 {
		f.pending--
		return jobs.Poll{}, nil
	}

	return jobs.Poll{Done: true, Result: f.result}, nil
}

func TestWaitForResult_PendingThenDone(t *testing.T) {
	want := &jobs.Result{Kind: calendar.KindImport, Success: true}
	src := &fakePollSource{pending: 2, result: want}

	got, err := waitForResult(context.Background(), src, "k", time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Zero(t, src.pending)
}

func TestWaitForResult_ContextCanceled(t *testing.T) {
	src := &fakePollSource{pending: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := waitForResult(ctx, src, "k", time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForResult_PollError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakePollSource{err: boom}

	_, err := waitForResult(context.Background(), src, "k", time.Millisecond)
	require.ErrorIs(t, err, boom)
}

func TestPrintResult_FailureIsError(t *testing.T) {
	saveGlobals(t)

	flagJSON = true

	err := printResult("k", &jobs.Result{Kind: calendar.KindExport, Error: "smtp down"})
	require.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, err.Error(), "smtp down")

	require.NoError(t, printResult("k", &jobs.Result{Kind: calendar.KindExport, Success: true}))
}

// --- app wiring tests ---

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Cache.Backend = config.BackendMemory
	cfg.Auth.User = "u1"

	return cfg
}

func TestNewApp_MemoryBackends(t *testing.T) {
	a, err := newApp(context.Background(), memoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	defer a.Close()

	assert.Nil(t, a.db)
	assert.Nil(t, a.rdb)

	st, err := a.manager.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, st.Connected)
}

func TestNewApp_LocalQueueRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, memoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	defer a.Close()

	stop := a.useLocalQueue(ctx)
	defer stop()

	csv := "Title,Start Time,End Time\nLaunch,2026-05-01T10:00:00,2026-05-01T11:00:00\n"

	key, err := a.runner.Submit(ctx, "u1", calendar.KindImport, calendar.ImportPayload{CSV: csv})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()

	res, err := waitForResult(waitCtx, a.runner, key, 5*time.Millisecond)
	require.NoError(t, err)

	// Nobody connected u1, so no row can be created.
	assert.Equal(t, calendar.KindImport, res.Kind)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	p, err := a.runner.Poll(ctx, key)
	require.NoError(t, err)
	assert.False(t, p.Done)
}

func TestNewApp_AsynqQueueClosesCleanly(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, a.useAsynqQueue(context.Background()))

	_, err = a.runner.Submit(context.Background(), "u1", calendar.KindImport, calendar.ImportPayload{CSV: "Title\n"})
	require.NoError(t, err)

	// Only the Redis client is owned by the app; closing must not fail on
	// the queue borrowing it.
	require.NoError(t, a.Close())
}

func TestOpenApp_RequiresConfig(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = nil

	_, err := openApp(context.Background())
	require.Error(t, err)
}
