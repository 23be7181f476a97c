package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nuand/bladeRF-sub005/pkg"
)

// =============================================================================
// Speed Tests
// =============================================================================

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{SpeedHigh, "High Speed"},
		{SpeedSuper, "SuperSpeed"},
		{SpeedSuperPlus, "SuperSpeed+"},
		{Speed(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.expected {
				t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Format and Layout Tests
// =============================================================================

func TestFormat_Properties(t *testing.T) {
	tests := []struct {
		format      Format
		bps         int
		timestamped bool
		packet      bool
		eightBit    bool
	}{
		{FormatSC16Q11, 4, false, false, false},
		{FormatSC16Q11Meta, 4, true, false, false},
		{FormatPacketMeta, 4, false, true, false},
		{FormatSC8Q7, 2, false, false, true},
		{FormatSC8Q7Meta, 2, true, false, true},
		{Format(200), 0, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.bps, tt.format.BytesPerSample())
			assert.Equal(t, tt.timestamped, tt.format.Timestamped())
			assert.Equal(t, tt.packet, tt.format.Packet())
			assert.Equal(t, tt.eightBit, tt.format.EightBit())
			assert.Equal(t, tt.bps != 0, tt.format.Valid())
		})
	}
}

func TestParseFormat(t *testing.T) {
	for f := FormatSC16Q11; f <= FormatSC8Q7Meta; f++ {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	_, err := ParseFormat("sc12")
	assert.ErrorIs(t, err, pkg.ErrInval)
}

func TestLayout(t *testing.T) {
	tests := []struct {
		layout Layout
		dir    Direction
		spts   int
	}{
		{LayoutRXX1, DirectionRX, 1},
		{LayoutTXX1, DirectionTX, 1},
		{LayoutRXX2, DirectionRX, 2},
		{LayoutTXX2, DirectionTX, 2},
	}

	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			assert.Equal(t, tt.dir, tt.layout.Direction())
			assert.Equal(t, tt.spts, tt.layout.SamplesPerTimestamp())
		})
	}
}

func TestCapability_Has(t *testing.T) {
	caps := CapFPGA8Bit | CapFWShortPacket
	assert.True(t, caps.Has(CapFPGA8Bit))
	assert.False(t, caps.Has(CapFPGAPacketMeta|CapFWShortPacket))
	assert.True(t, CapAll.Has(CapFPGAPacketMeta|CapFWShortPacket))
}

// =============================================================================
// TransferQueue Tests
// =============================================================================

func recv(t *testing.T, q *TransferQueue) Completion {
	t.Helper()
	select {
	case c := <-q.Completions():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
		return Completion{}
	}
}

func TestTransferQueue_Order(t *testing.T) {
	var seq byte
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 4}, func(_ context.Context, buf []byte) (int, error) {
		seq++
		buf[0] = seq
		return len(buf), nil
	})
	require.NoError(t, err)
	defer q.Close()

	bufs := make([][]byte, 4)
	for i := range bufs {
		bufs[i] = make([]byte, 8)
		require.NoError(t, q.Submit(i, bufs[i]))
	}

	for i := range bufs {
		c := recv(t, q)
		assert.Equal(t, i, c.Slot)
		assert.Equal(t, 8, c.Length)
		assert.Equal(t, pkg.TransferStatusSuccess, c.Status)
		assert.Equal(t, byte(i+1), bufs[i][0])
	}
	assert.Equal(t, 0, q.Pending())
}

func TestTransferQueue_SlotBusy(t *testing.T) {
	block := make(chan struct{})
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 1}, func(ctx context.Context, buf []byte) (int, error) {
		select {
		case <-block:
			return len(buf), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(0, make([]byte, 4)))
	assert.ErrorIs(t, q.Submit(0, make([]byte, 4)), pkg.ErrUnexpected)
	assert.ErrorIs(t, q.Submit(3, make([]byte, 4)), pkg.ErrInval)
	close(block)
	assert.Equal(t, pkg.TransferStatusSuccess, recv(t, q).Status)
}

func TestTransferQueue_Cancel(t *testing.T) {
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 2}, func(ctx context.Context, _ []byte) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(0, make([]byte, 4)))
	require.NoError(t, q.Submit(1, make([]byte, 4)))
	require.NoError(t, q.Cancel(1))
	require.NoError(t, q.Cancel(0))

	for i := 0; i < 2; i++ {
		c := recv(t, q)
		assert.Equal(t, i, c.Slot)
		assert.Equal(t, pkg.TransferStatusCancelled, c.Status)
	}
}

func TestTransferQueue_Timeout(t *testing.T) {
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 1, Timeout: 10 * time.Millisecond},
		func(ctx context.Context, _ []byte) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(0, make([]byte, 4)))
	c := recv(t, q)
	assert.Equal(t, pkg.TransferStatusTimeout, c.Status)
	assert.ErrorIs(t, c.Status.Error(), pkg.ErrTimeout)
}

func TestTransferQueue_ErrorStatus(t *testing.T) {
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 1}, func(context.Context, []byte) (int, error) {
		return 0, errors.New("pipe broken")
	})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Submit(0, make([]byte, 4)))
	assert.Equal(t, pkg.TransferStatusError, recv(t, q).Status)
}

func TestTransferQueue_Closed(t *testing.T) {
	q, err := NewTransferQueue(StreamConfig{NumTransfers: 1}, func(context.Context, []byte) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Submit(0, nil), pkg.ErrClosed)
}

func TestNewTransferQueue_Invalid(t *testing.T) {
	_, err := NewTransferQueue(StreamConfig{NumTransfers: 0}, func(context.Context, []byte) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, pkg.ErrInval)
	_, err = NewTransferQueue(StreamConfig{NumTransfers: 1}, nil)
	assert.ErrorIs(t, err, pkg.ErrInval)
}

func TestParseLayout(t *testing.T) {
	for l := LayoutRXX1; l <= LayoutTXX2; l++ {
		got, err := ParseLayout(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	_, err := ParseLayout("rx_x4")
	assert.ErrorIs(t, err, pkg.ErrInval)
}

func TestTextCodec(t *testing.T) {
	var l Layout
	require.NoError(t, l.UnmarshalText([]byte("tx_x2")))
	assert.Equal(t, LayoutTXX2, l)
	text, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "tx_x2", string(text))

	var f Format
	require.NoError(t, f.UnmarshalText([]byte("sc8q7_meta")))
	assert.Equal(t, FormatSC8Q7Meta, f)
	assert.ErrorIs(t, f.UnmarshalText([]byte("iq")), pkg.ErrInval)
	assert.Equal(t, FormatSC8Q7Meta, f)
}
