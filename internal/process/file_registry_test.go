package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFileRegistry(t *testing.T) (*FileRegistry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	r, err := NewFileRegistry(t.TempDir(), time.Minute)
	require.NoError(t, err)
	return r.WithClock(clock.Now), clock
}

func TestNewFileRegistry_RequiresDir(t *testing.T) {
	_, err := NewFileRegistry(" ", time.Minute)
	assert.Error(t, err)
}

func TestFileRegistry_AddUpdateRemove(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	require.NoError(t, r.Add(ctx, "w1", map[string]any{MetaOSPID: 1234}))
	assert.FileExists(t, filepath.Join(r.dir, "queue_w1.pid"))
	assert.FileExists(t, filepath.Join(r.dir, "queue.pid"))

	data, err := os.ReadFile(filepath.Join(r.dir, "queue_w1.pid"))
	require.NoError(t, err)
	assert.Equal(t, "1234", string(data))

	require.NoError(t, r.Update(ctx, "w1"))
	require.NoError(t, r.Remove(ctx, "w1"))
	require.NoError(t, r.Remove(ctx, "w1"), "remove is idempotent")

	err = r.Update(ctx, "w1")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestFileRegistry_AddRejectsLiveDuplicate(t *testing.T) {
	ctx := context.Background()
	r, clock := newFileRegistry(t)

	require.NoError(t, r.Add(ctx, "w1", nil))
	assert.ErrorIs(t, r.Add(ctx, "w1", nil), ErrProcessExists)

	clock.Advance(2 * time.Minute)
	assert.NoError(t, r.Add(ctx, "w1", nil), "a stale file is replaced")
}

func TestFileRegistry_AddRejectsPathSeparators(t *testing.T) {
	r, _ := newFileRegistry(t)
	assert.Error(t, r.Add(context.Background(), "../evil", nil))
	assert.Error(t, r.Add(context.Background(), "", nil))
}

func TestFileRegistry_StatusAndClean(t *testing.T) {
	ctx := context.Background()
	r, clock := newFileRegistry(t)

	require.NoError(t, r.Add(ctx, "old", nil))
	clock.Advance(90 * time.Second)
	require.NoError(t, r.Add(ctx, "fresh", nil))

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Workers)
	require.NotNil(t, st.LastHeartbeat)
	assert.True(t, st.LastHeartbeat.Equal(clock.Now()))

	procs, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, procs, 2)

	removed, err := r.CleanKilledProcesses(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	procs, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "fresh", procs[0].PID)
}

func TestFileRegistry_Terminate(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	// os pid 0 is never signalled
	require.NoError(t, r.Add(ctx, "w1", nil))
	require.NoError(t, r.Terminate(ctx, "w1"))
	assert.NoFileExists(t, filepath.Join(r.dir, "queue_w1.pid"))

	assert.ErrorIs(t, r.Terminate(ctx, "w1"), ErrProcessNotFound)
	assert.ErrorIs(t, r.Update(ctx, "w1"), ErrProcessNotFound)
}

func TestFileRegistry_SharedProcessFile(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	require.NoError(t, r.Add(ctx, "host-2", map[string]any{MetaOSPID: 1234, MetaSharedProcess: true}))

	data, err := os.ReadFile(filepath.Join(r.dir, "queue_host-2.pid"))
	require.NoError(t, err)
	assert.Equal(t, "1234 shared", string(data))

	procs, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, 1234, OSPID(procs[0].Meta))
	assert.True(t, SharedProcess(procs[0].Meta))
}

func TestFileRegistry_TerminateSignalsOnlyOwnedProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	pid := cmd.Process.Pid

	require.NoError(t, r.Add(ctx, "pooled", map[string]any{MetaOSPID: pid, MetaSharedProcess: true}))
	require.NoError(t, r.Terminate(ctx, "pooled"))
	select {
	case <-exited:
		t.Fatal("shared process was signalled")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, r.Add(ctx, "alone", map[string]any{MetaOSPID: pid}))
	require.NoError(t, r.Terminate(ctx, "alone"))
	select {
	case err := <-exited:
		assert.Error(t, err, "sleep ends by SIGTERM")
	case <-time.After(2 * time.Second):
		t.Fatal("owned process was not signalled")
	}
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "worker-a", Identity("worker-a"))
	assert.NotEmpty(t, Identity(""))
}

func TestOSPID(t *testing.T) {
	assert.Equal(t, 7, OSPID(map[string]any{MetaOSPID: 7}))
	assert.Equal(t, 7, OSPID(map[string]any{MetaOSPID: float64(7)}))
	assert.Equal(t, 7, OSPID(map[string]any{MetaOSPID: "7"}))
	assert.Equal(t, 0, OSPID(nil))
}
