package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

func transfer(t *testing.T, tr hal.Transport, slot int, buf []byte) hal.Completion {
	t.Helper()
	require.NoError(t, tr.Submit(slot, buf))
	select {
	case c := <-tr.Completions():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
		return hal.Completion{}
	}
}

func TestNew_Defaults(t *testing.T) {
	assert.Equal(t, hal.SpeedSuper, New(Config{}).Speed())
	assert.Equal(t, 2048, New(Config{}).cfg.MessageSize)
	assert.Equal(t, 1024, New(Config{Speed: hal.SpeedHigh}).cfg.MessageSize)
}

func TestReceive_Timestamped(t *testing.T) {
	d := New(Config{Format: hal.FormatSC16Q11Meta, StartTimestamp: 1000, HWFlags: metadata.FlagRXHWUnderflow})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 8192})
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 8192)
	c := transfer(t, tr, 0, buf)
	assert.Equal(t, pkg.TransferStatusSuccess, c.Status)
	assert.Equal(t, 8192, c.Length)

	for m := 0; m < 4; m++ {
		msg := buf[m*2048:]
		ts, flags := metadata.Decode(msg)
		assert.Equal(t, uint64(1000+m*508), ts)
		assert.Equal(t, metadata.FlagRXHWUnderflow, flags)
		assert.Equal(t, uint16(ts), RampIndex(msg[metadata.HeaderSize:]))
	}
	assert.Equal(t, uint64(1000+4*508), d.RXTimestamp())
}

func TestReceive_Gaps(t *testing.T) {
	d := New(Config{Format: hal.FormatSC16Q11Meta, GapEvery: 2, GapTicks: 100})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 8192})
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 8192)
	transfer(t, tr, 0, buf)

	var got []uint64
	for m := 0; m < 4; m++ {
		ts, _ := metadata.Decode(buf[m*2048:])
		got = append(got, ts)
	}
	assert.Equal(t, []uint64{0, 508, 1116, 1624}, got)
}

func TestReceive_Packet(t *testing.T) {
	d := New(Config{Format: hal.FormatPacketMeta, PacketWords: 10})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 4096})
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 4096)
	c := transfer(t, tr, 0, buf)
	assert.Equal(t, metadata.HeaderSize+40, c.Length)
	assert.Equal(t, uint16(10), metadata.PacketLength(buf))
}

func TestReceive_Plain(t *testing.T) {
	d := New(Config{Format: hal.FormatSC8Q7})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 2048})
	require.NoError(t, err)
	defer tr.Close()

	buf := make([]byte, 2048)
	transfer(t, tr, 0, buf)
	assert.Equal(t, byte(0), buf[0])
	assert.Equal(t, byte(5), buf[10])
	assert.Equal(t, ^byte(5), buf[11])
	assert.Equal(t, uint64(1024), d.RXTimestamp())
}

func TestTransmit_Records(t *testing.T) {
	d := New(Config{})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionTX, NumTransfers: 2, BufferSize: 16})
	require.NoError(t, err)
	defer tr.Close()

	buf := []byte{1, 2, 3, 4}
	c := transfer(t, tr, 1, buf)
	assert.Equal(t, 4, c.Length)
	buf[0] = 9

	got := d.Transmitted()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, got[0])
	assert.Equal(t, 1, d.Transfers())
}

func TestFailAfter(t *testing.T) {
	tests := []struct {
		status pkg.TransferStatus
		want   pkg.TransferStatus
	}{
		{pkg.TransferStatusTimeout, pkg.TransferStatusTimeout},
		{pkg.TransferStatusNoDevice, pkg.TransferStatusNoDevice},
		{pkg.TransferStatusStall, pkg.TransferStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			d := New(Config{FailAfter: 1, FailStatus: tt.status})
			tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 64})
			require.NoError(t, err)
			defer tr.Close()

			assert.Equal(t, pkg.TransferStatusSuccess, transfer(t, tr, 0, make([]byte, 64)).Status)
			assert.Equal(t, tt.want, transfer(t, tr, 0, make([]byte, 64)).Status)
		})
	}
}

func TestPauseResume(t *testing.T) {
	d := New(Config{})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionTX, NumTransfers: 1, BufferSize: 16})
	require.NoError(t, err)
	defer tr.Close()

	d.Pause()
	require.NoError(t, tr.Submit(0, make([]byte, 4)))
	select {
	case <-tr.Completions():
		t.Fatal("paused transfer completed")
	case <-time.After(20 * time.Millisecond):
	}

	d.Resume()
	select {
	case c := <-tr.Completions():
		assert.Equal(t, pkg.TransferStatusSuccess, c.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("resumed transfer did not complete")
	}
}

func TestPausedCancel(t *testing.T) {
	d := New(Config{})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionTX, NumTransfers: 1, BufferSize: 16})
	require.NoError(t, err)
	defer tr.Close()

	d.Pause()
	require.NoError(t, tr.Submit(0, make([]byte, 4)))
	require.NoError(t, tr.Cancel(0))
	select {
	case c := <-tr.Completions():
		assert.Equal(t, pkg.TransferStatusCancelled, c.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled transfer did not complete")
	}
}

func TestSampleRatePacing(t *testing.T) {
	d := New(Config{SampleRate: 100000})
	tr, err := d.InitStream(hal.StreamConfig{Direction: hal.DirectionRX, NumTransfers: 1, BufferSize: 4096})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		transfer(t, tr, 0, make([]byte, 4096))
	}
	// The first buffer uses the burst; two more need 2 * 1024 / 100000 s.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.NoError(t, ctx.Err())
}
