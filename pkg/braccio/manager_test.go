package braccio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-braccio/internal/log"
	"github.com/teslashibe/go-braccio/pkg/armconfig"
)

// stubFactory hands out a fresh answering stub per driver.
type stubFactory struct {
	mu    sync.Mutex
	built []*stubTransport
	cfgs  []armconfig.ArmConfig
	err   error
}

func (f *stubFactory) New(cfg armconfig.ArmConfig) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	tr := &stubTransport{reply: "0"}
	f.built = append(f.built, tr)
	f.cfgs = append(f.cfgs, cfg)
	return tr, nil
}

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func newTestManager(t *testing.T) (*Manager, *stubFactory, *armconfig.Store) {
	t.Helper()

	store := armconfig.NewStore(t.TempDir())
	f := &stubFactory{}
	m := NewManager(store, f.New, ManagerOptions{
		Driver:         testDriverConfig(),
		CommandTimeout: time.Second,
		Logger:         log.Discard(),
	})
	t.Cleanup(func() { _ = m.Stop() })
	return m, f, store
}

func TestManagerUnconfigured(t *testing.T) {
	m, f, _ := newTestManager(t)
	ctx := context.Background()

	assert.False(t, m.Configured())
	assert.False(t, m.Running())
	assert.False(t, m.Connected())
	assert.Nil(t, m.Arm())
	assert.ErrorIs(t, m.Start(), ErrNotConfigured)
	assert.Zero(t, f.count())

	for _, res := range []Result{
		m.Move(ctx, 0, 100, 100, 0),
		m.Wrist(ctx, WristVertical),
		m.Gripper(ctx, GripperOpen),
		m.Home(ctx),
		m.On(ctx),
		m.Off(ctx),
	} {
		assert.Equal(t, StatusNotConfigured, res.Status)
		assert.ErrorIs(t, res.Err(), ErrNotConfigured)
	}

	snap := m.Snapshot()
	assert.False(t, snap.Configured)
	assert.Nil(t, snap.Config)
	assert.Nil(t, snap.Driver)
}

func TestManagerLifecycle(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SaveConfig(testArmConfig))
	assert.True(t, m.Configured())
	assert.False(t, m.Running(), "saving does not start a stopped arm")
	assert.FileExists(t, store.Path())

	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)

	res := m.Move(ctx, 0, 100, 100, 0)
	require.True(t, res.OK, res.Status.String())
	require.True(t, m.Gripper(ctx, GripperOpen).OK)

	snap := m.Snapshot()
	assert.True(t, snap.Configured)
	assert.True(t, snap.Running)
	assert.True(t, snap.Connected)
	require.NotNil(t, snap.Config)
	assert.Equal(t, testArmConfig, *snap.Config)
	require.NotNil(t, snap.Position)
	assert.Equal(t, GripperOpen, snap.Position.Gripper)
	require.NotNil(t, snap.Target)
	assert.Equal(t, Target{X: 0, Y: 100, Z: 100}, *snap.Target)
	require.NotNil(t, snap.Driver)
	assert.True(t, snap.Driver.Connected)
	require.Eventually(t, func() bool {
		return m.Snapshot().Driver.CommandsSent == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.Nil(t, m.Arm())
	assert.Equal(t, StatusNotConfigured, m.Home(ctx).Status)
	assert.True(t, m.Configured())
}

func TestManagerSaveConfigRestarts(t *testing.T) {
	m, f, _ := newTestManager(t)

	require.NoError(t, m.SaveConfig(testArmConfig))
	require.NoError(t, m.Start())
	first := m.Arm()

	next := armconfig.ArmConfig{Name: "ADA-other", Address: "11:22:33:44:55:66"}
	require.NoError(t, m.SaveConfig(next))

	assert.True(t, m.Running())
	assert.NotSame(t, first, m.Arm())
	assert.Equal(t, 2, f.count())

	f.mu.Lock()
	assert.Equal(t, next, f.cfgs[1])
	assert.False(t, f.built[0].Connected(), "old link closed")
	f.mu.Unlock()

	cfg, ok := m.Config()
	assert.True(t, ok)
	assert.Equal(t, next, cfg)
}

func TestManagerSaveConfigRejectsInvalid(t *testing.T) {
	m, _, store := newTestManager(t)

	assert.Error(t, m.SaveConfig(armconfig.ArmConfig{Name: "ADA"}))
	assert.False(t, m.Configured())
	assert.NoFileExists(t, store.Path())
}

func TestManagerResetConfig(t *testing.T) {
	m, _, store := newTestManager(t)

	require.NoError(t, m.SaveConfig(testArmConfig))
	require.NoError(t, m.Start())

	require.NoError(t, m.ResetConfig())
	assert.False(t, m.Configured())
	assert.False(t, m.Running())
	assert.NoFileExists(t, store.Path())

	require.NoError(t, m.ResetConfig(), "reset is idempotent")
}

func TestManagerLoadsSavedConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, armconfig.NewStore(dir).Save(testArmConfig))

	m := NewManager(armconfig.NewStore(dir), (&stubFactory{}).New, ManagerOptions{Logger: log.Discard()})

	cfg, ok := m.Config()
	require.True(t, ok)
	assert.Equal(t, testArmConfig, cfg)
}

func TestManagerIgnoresCorruptConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, armconfig.FileName), []byte("{nope"), 0o644))

	m := NewManager(armconfig.NewStore(dir), (&stubFactory{}).New, ManagerOptions{Logger: log.Discard()})
	assert.False(t, m.Configured())
}

func TestManagerFactoryError(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.err = errors.New("no adapter")

	require.NoError(t, m.SaveConfig(testArmConfig))
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter")
	assert.False(t, m.Running())
}
