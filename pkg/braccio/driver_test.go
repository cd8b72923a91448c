package braccio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-braccio/internal/log"
)

func TestDefaultDriverConfig(t *testing.T) {
	cfg := DriverConfig{ChunkSize: 64}.withDefaults()

	assert.Equal(t, 20*time.Millisecond, cfg.Tick)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultStopTimeout, cfg.StopTimeout)
	assert.Equal(t, MaxChunkSize, cfg.ChunkSize)
}

func TestDriverConnectsAndDispatches(t *testing.T) {
	tr := &stubTransport{reply: "0"}
	d := startDriver(t, tr)

	require.Eventually(t, d.Connected, time.Second, time.Millisecond)
	assert.True(t, d.Running())

	cmd := Move(Position{Base: 135, Shoulder: 100, Elbow: 100, Wrist: 100, Rotation: WristHorizontal, Gripper: GripperClose})
	d.Enqueue(cmd)

	require.Eventually(t, func() bool { return len(tr.Frames()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "P,135,100,100,100,90,73|", tr.Frames()[0])

	chunks := tr.Chunks()
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], MaxChunkSize)
	assert.Equal(t, Encode(cmd), bytes.Join(chunks, nil))

	require.Eventually(t, func() bool { return d.Stats().CommandsSent == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StatusOK, d.Status())

	stats := d.Stats()
	assert.EqualValues(t, 2, stats.ChunksWritten)
	assert.EqualValues(t, 1, stats.Notifications)
	assert.EqualValues(t, 1, stats.Connections)
	assert.Zero(t, stats.Pending)
}

func TestDriverDrainsInOrder(t *testing.T) {
	tr := &stubTransport{}
	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	d.Enqueue(PowerOn())
	d.Enqueue(Home())
	d.Enqueue(PowerOff())

	require.Eventually(t, func() bool { return len(tr.Frames()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1|", "H|", "0|"}, tr.Frames())
}

func TestDriverMarksExecuting(t *testing.T) {
	tr := &stubTransport{}
	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	d.Enqueue(Home())
	require.Eventually(t, func() bool { return d.Status() == StatusExecuting }, time.Second, time.Millisecond)
}

func TestDriverRetriesConnect(t *testing.T) {
	tr := &stubTransport{connectErr: errors.New("not advertising")}
	d := startDriver(t, tr)

	require.Eventually(t, func() bool { return tr.Connects() >= 3 }, time.Second, time.Millisecond)
	assert.False(t, d.Connected())
	assert.True(t, d.Running())

	tr.mu.Lock()
	tr.connectErr = nil
	tr.mu.Unlock()

	require.Eventually(t, d.Connected, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, d.Stats().ConnectAttempts, int64(4))
}

func TestDriverReconnectsAfterWriteFailure(t *testing.T) {
	tr := &stubTransport{dropAt: 1}
	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	d.Enqueue(Home())

	require.Eventually(t, func() bool { return d.Stats().Connections >= 2 }, time.Second, time.Millisecond)
	stats := d.Stats()
	assert.EqualValues(t, 1, stats.WriteErrors)
	assert.Zero(t, stats.CommandsSent)
	assert.Empty(t, tr.Frames())
	// the device never answered, so nothing may pretend it did
	assert.Equal(t, StatusExecuting, d.Status())
}

func TestDriverReconnectsAfterLinkLoss(t *testing.T) {
	tr := &stubTransport{}
	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	require.NoError(t, tr.Disconnect())

	require.Eventually(t, func() bool { return tr.Connects() >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)
}

func TestDriverCountsProtocolErrors(t *testing.T) {
	tr := &stubTransport{}
	d := startDriver(t, tr)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	tr.notify("0")
	tr.notify("garbage")

	stats := d.Stats()
	assert.EqualValues(t, 2, stats.Notifications)
	assert.EqualValues(t, 1, stats.ProtocolErrors)
	assert.Equal(t, StatusOK, d.Status())
}

func TestDriverStop(t *testing.T) {
	tr := &stubTransport{}
	d := NewDriver(testArmConfig, tr, testDriverConfig(), log.Discard())

	assert.NoError(t, d.Stop(), "stopping an unstarted driver")
	assert.Equal(t, StateStopped, d.State())

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Start(), ErrDriverRunning)
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	select {
	case <-d.Done():
	default:
		t.Fatal("done not closed after Stop")
	}
	assert.False(t, d.Running())
	assert.False(t, d.Connected())
	assert.False(t, tr.Connected())
	assert.Equal(t, StateStopped, d.State())
}

func TestDriverStopWhileConnecting(t *testing.T) {
	tr := &stubTransport{connectErr: errors.New("nope")}
	d := NewDriver(testArmConfig, tr, testDriverConfig(), log.Discard())
	require.NoError(t, d.Start())

	require.Eventually(t, func() bool { return tr.Connects() >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.Stop())
	assert.False(t, d.Running())
}

func TestDriverBoundsStalledConnect(t *testing.T) {
	tr := &stubTransport{connectStall: 2 * time.Second}
	dcfg := testDriverConfig()
	dcfg.ConnectTimeout = 50 * time.Millisecond
	dcfg.StopTimeout = 200 * time.Millisecond
	d := NewDriver(testArmConfig, tr, dcfg, log.Discard())
	require.NoError(t, d.Start())

	require.Eventually(t, func() bool { return d.Stats().ConnectAttempts >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, tr.Connects(), "a stalled connect is awaited again, not duplicated")
	assert.False(t, d.Connected())

	start := time.Now()
	require.NoError(t, d.Stop())
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, StateStopped, d.State())
}

func TestDriverPicksUpSlowConnect(t *testing.T) {
	tr := &stubTransport{connectStall: 100 * time.Millisecond}
	dcfg := testDriverConfig()
	dcfg.ConnectTimeout = 20 * time.Millisecond
	d := NewDriver(testArmConfig, tr, dcfg, log.Discard())
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })

	require.Eventually(t, d.Connected, time.Second, time.Millisecond)
	assert.Equal(t, 1, tr.Connects())
	assert.EqualValues(t, 1, d.Stats().Connections)
	assert.Greater(t, d.Stats().ConnectAttempts, int64(1))
}

func TestDriverBoundsStalledWrite(t *testing.T) {
	tr := &stubTransport{stall: make(chan struct{})}
	t.Cleanup(func() { close(tr.stall) })

	dcfg := testDriverConfig()
	dcfg.WriteTimeout = 30 * time.Millisecond
	d := NewDriver(testArmConfig, tr, dcfg, log.Discard())
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })
	require.Eventually(t, d.Connected, time.Second, time.Millisecond)

	d.Enqueue(Home())

	require.Eventually(t, func() bool { return d.Stats().WriteErrors == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return d.Stats().Connections >= 2 }, time.Second, time.Millisecond)
	assert.Zero(t, d.Stats().CommandsSent)

	start := time.Now()
	require.NoError(t, d.Stop())
	assert.Less(t, time.Since(start), dcfg.StopTimeout)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
