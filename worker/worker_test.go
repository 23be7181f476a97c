package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/hal/sim"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/ring"
)

func testConfig(layout hal.Layout) Config {
	return Config{
		Layout:           layout,
		Format:           hal.FormatSC16Q11,
		NumBuffers:       8,
		SamplesPerBuffer: 1024,
		NumTransfers:     4,
		Timeout:          2 * time.Second,
		StopTimeout:      200 * time.Millisecond,
	}
}

func newRing(layout hal.Layout) *ring.Ring {
	submitter := ring.SubmitterInvalid
	if layout.Direction() == hal.DirectionTX {
		submitter = ring.SubmitterFn
	}
	return ring.New(8, 4, submitter, nil)
}

func newWorker(t *testing.T, dev *sim.Device, r *ring.Ring, cfg Config) *Worker {
	t.Helper()
	w, err := New(dev, r, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStartup, "startup"},
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateShuttingDown, "shutting down"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNew(t *testing.T) {
	w := newWorker(t, sim.New(sim.Config{}), newRing(hal.LayoutRXX1), testConfig(hal.LayoutRXX1))

	state, err := w.Status()
	assert.Equal(t, StateIdle, state)
	assert.NoError(t, err)
	assert.Equal(t, 0, w.Stream().InFlight())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(sim.New(sim.Config{}), nil, testConfig(hal.LayoutRXX1))
	assert.ErrorIs(t, err, pkg.ErrInval)

	cfg := testConfig(hal.LayoutRXX1)
	cfg.NumTransfers = 16
	_, err = New(sim.New(sim.Config{}), newRing(hal.LayoutRXX1), cfg)
	assert.ErrorIs(t, err, pkg.ErrInval)
}

func TestStart_RX(t *testing.T) {
	dev := sim.New(sim.Config{})
	r := newRing(hal.LayoutRXX1)
	r.Status[6] = ring.Full
	r.ConsI = 3
	w := newWorker(t, dev, r, testConfig(hal.LayoutRXX1))

	dev.Pause()
	defer dev.Resume()

	w.Request(RequestStart)
	require.NoError(t, w.WaitForState(StateRunning, time.Second))
	eventually(t, func() bool { return w.Stream().InFlight() == 4 })

	r.Lock()
	defer r.Unlock()
	assert.Equal(t, []ring.Status{
		ring.InFlight, ring.InFlight, ring.InFlight, ring.InFlight,
		ring.Empty, ring.Empty, ring.Empty, ring.Empty,
	}, r.Status)
	assert.Equal(t, 4, r.ProdI)
	assert.Equal(t, 0, r.ConsI)
}

func TestRX_FillsRingThenOverruns(t *testing.T) {
	dev := sim.New(sim.Config{})
	r := newRing(hal.LayoutRXX1)
	w := newWorker(t, dev, r, testConfig(hal.LayoutRXX1))

	w.Request(RequestStart)
	require.NoError(t, w.WaitForState(StateRunning, time.Second))

	eventually(t, func() bool {
		r.Lock()
		defer r.Unlock()
		return r.Counts()[ring.Full] == 8-r.NumTransfers() && r.TakeOverruns() > 0
	})

	r.Lock()
	assert.Equal(t, 4, r.Counts()[ring.InFlight])
	r.Unlock()
}

func TestTX_PrimingSubmitsDeferredBuffers(t *testing.T) {
	dev := sim.New(sim.Config{})
	r := newRing(hal.LayoutTXX1)
	w := newWorker(t, dev, r, testConfig(hal.LayoutTXX1))

	bufs := w.Stream().Buffers()
	bufs[0][0] = 0xaa
	bufs[1][0] = 0xbb
	r.Status[0] = ring.Full
	r.Status[1] = ring.Full
	r.Lengths[0] = len(bufs[0])
	r.Lengths[1] = len(bufs[1])
	r.ConsI = 0
	r.Submitter = ring.SubmitterCallback

	w.Request(RequestStart)
	require.NoError(t, w.WaitForState(StateRunning, time.Second))

	eventually(t, func() bool { return len(dev.Transmitted()) == 2 })
	sent := dev.Transmitted()
	assert.Equal(t, byte(0xaa), sent[0][0])
	assert.Equal(t, byte(0xbb), sent[1][0])

	eventually(t, func() bool {
		r.Lock()
		defer r.Unlock()
		return r.Counts()[ring.Empty] == 8
	})
	r.Lock()
	assert.Equal(t, ring.SubmitterFn, r.Submitter)
	assert.Equal(t, ring.InvalidIndex, r.ConsI)
	r.Unlock()
}

func TestStatus_ReportsAndClearsError(t *testing.T) {
	dev := sim.New(sim.Config{FailAfter: 1, FailStatus: pkg.TransferStatusStall})
	w := newWorker(t, dev, newRing(hal.LayoutRXX1), testConfig(hal.LayoutRXX1))

	w.Request(RequestStart)
	eventually(t, func() bool {
		w.stateMu.Lock()
		defer w.stateMu.Unlock()
		return w.err != nil
	})

	state, err := w.Status()
	assert.Equal(t, StateIdle, state)
	assert.ErrorIs(t, err, pkg.ErrIO)

	_, err = w.Status()
	assert.NoError(t, err)
}

func TestRestart(t *testing.T) {
	dev := sim.New(sim.Config{FailAfter: 1, FailStatus: pkg.TransferStatusTimeout})
	w := newWorker(t, dev, newRing(hal.LayoutRXX1), testConfig(hal.LayoutRXX1))

	for i := 0; i < 2; i++ {
		before := dev.Transfers()
		w.Request(RequestStart)
		eventually(t, func() bool { return dev.Transfers() > before })
		eventually(t, func() bool { return w.State() == StateIdle })
	}
}

func TestWaitForState_Timeout(t *testing.T) {
	w := newWorker(t, sim.New(sim.Config{}), newRing(hal.LayoutRXX1), testConfig(hal.LayoutRXX1))

	err := w.WaitForState(StateRunning, 10*time.Millisecond)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestClose(t *testing.T) {
	tests := []struct {
		name   string
		layout hal.Layout
		start  bool
	}{
		{"idle rx", hal.LayoutRXX1, false},
		{"running rx", hal.LayoutRXX1, true},
		{"running tx", hal.LayoutTXX1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := sim.New(sim.Config{SampleRate: 100000})
			w, err := New(dev, newRing(tt.layout), testConfig(tt.layout))
			require.NoError(t, err)

			if tt.start {
				w.Request(RequestStart)
				require.NoError(t, w.WaitForState(StateRunning, time.Second))
			}

			require.NoError(t, w.Close())
			assert.Equal(t, StateStopped, w.State())
			assert.Zero(t, w.Stream().InFlight())
			assert.NoError(t, w.Close())
		})
	}
}

func TestClose_ForcedStop(t *testing.T) {
	dev := sim.New(sim.Config{})
	cfg := testConfig(hal.LayoutRXX1)
	cfg.StopTimeout = 50 * time.Millisecond
	w, err := New(dev, newRing(hal.LayoutRXX1), cfg)
	require.NoError(t, err)

	// Paused transfers never complete, so no callback sees the stop request.
	dev.Pause()
	defer dev.Resume()

	w.Request(RequestStart)
	require.NoError(t, w.WaitForState(StateRunning, time.Second))
	eventually(t, func() bool { return w.Stream().InFlight() == 4 })

	start := time.Now()
	require.NoError(t, w.Close())
	assert.Less(t, time.Since(start), ForcedStopTimeout+cfg.StopTimeout)

	select {
	case <-w.done:
	default:
		t.Fatal("worker goroutine still running")
	}
	assert.Equal(t, StateStopped, w.State())
}
