package device

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/hal/sim"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/syncstream"
)

func open(t *testing.T, h hal.StreamHAL, opts Options) *Device {
	t.Helper()
	d, err := Open(h, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// counter returns the value of a direction-labelled stream counter.
func counter(t *testing.T, reg *prometheus.Registry, name, dir string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "direction" && l.GetValue() == dir {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMessageSize(t *testing.T) {
	tests := []struct {
		speed   hal.Speed
		want    int
		wantErr error
	}{
		{hal.SpeedSuperPlus, 2048, nil},
		{hal.SpeedSuper, 2048, nil},
		{hal.SpeedHigh, 1024, nil},
		{hal.SpeedFull, 0, pkg.ErrUnsupported},
		{hal.SpeedUnknown, 0, pkg.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			got, err := MessageSize(tt.speed)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen(t *testing.T) {
	_, err := Open(nil, Options{})
	assert.ErrorIs(t, err, pkg.ErrInval)

	_, err = Open(sim.New(sim.Config{Speed: hal.SpeedFull}), Options{})
	assert.ErrorIs(t, err, pkg.ErrUnsupported)

	d := open(t, sim.New(sim.Config{Speed: hal.SpeedHigh}), Options{})
	assert.Equal(t, hal.SpeedHigh, d.Speed())
	assert.Equal(t, hal.CapAll, d.Capabilities())
}

func TestSyncConfig_Capabilities(t *testing.T) {
	tests := []struct {
		name    string
		caps    hal.Capability
		format  hal.Format
		wantErr error
	}{
		{"plain", hal.CapFWShortPacket, hal.FormatSC16Q11, nil},
		{"8-bit supported", hal.CapFPGA8Bit, hal.FormatSC8Q7, nil},
		{"8-bit meta unsupported", hal.CapFPGAPacketMeta, hal.FormatSC8Q7Meta, pkg.ErrUnsupported},
		{"packet supported", hal.CapFWShortPacket | hal.CapFPGAPacketMeta, hal.FormatPacketMeta, nil},
		{"packet without firmware support", hal.CapFPGAPacketMeta, hal.FormatPacketMeta, pkg.ErrUnsupported},
		{"packet without fpga support", hal.CapFWShortPacket, hal.FormatPacketMeta, pkg.ErrUnsupported},
		{"unknown format", hal.CapAll, hal.Format(42), pkg.ErrInval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := open(t, sim.New(sim.Config{}), Options{Capabilities: tt.caps})
			err := d.SyncConfig(hal.LayoutRXX1, tt.format, 16, 2048, 4, time.Second)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.NotNil(t, d.Stream(hal.DirectionRX))
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, d.Stream(hal.DirectionRX))
			}
		})
	}
}

func TestSyncConfig_InvalidGeometry(t *testing.T) {
	d := open(t, sim.New(sim.Config{}), Options{})
	err := d.SyncConfig(hal.LayoutTXX1, hal.FormatSC16Q11, 4, 1024, 4, time.Second)
	assert.ErrorIs(t, err, pkg.ErrInval)
	assert.Nil(t, d.Stream(hal.DirectionTX))
}

func TestSyncConfig_Replaces(t *testing.T) {
	d := open(t, sim.New(sim.Config{}), Options{})
	require.NoError(t, d.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second))
	first := d.Stream(hal.DirectionRX)

	require.NoError(t, d.SyncConfig(hal.LayoutRXX2, hal.FormatSC16Q11Meta, 8, 2048, 4, time.Second))
	second := d.Stream(hal.DirectionRX)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, hal.LayoutRXX2, second.Config().Layout)
	assert.Equal(t, MessageSizeSuperSpeed, second.Config().MessageSize)

	_, err := first.RX(make([]byte, 64), 16, nil, time.Second)
	assert.ErrorIs(t, err, pkg.ErrClosed)
}

func TestSync_NotConfigured(t *testing.T) {
	d := open(t, sim.New(sim.Config{}), Options{})
	buf := make([]byte, 64)

	_, err := d.SyncRX(buf, 16, nil, time.Second)
	assert.ErrorIs(t, err, pkg.ErrInval)
	assert.ErrorIs(t, d.SyncTX(buf, 16, nil, time.Second), pkg.ErrInval)
}

func TestSyncRX_HighSpeedMessages(t *testing.T) {
	dev := sim.New(sim.Config{
		Speed:          hal.SpeedHigh,
		Format:         hal.FormatSC16Q11Meta,
		StartTimestamp: 5000,
		SampleRate:     200000,
	})
	d := open(t, dev, Options{})
	require.NoError(t, d.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11Meta, 16, 1024, 4, time.Second))
	assert.Equal(t, MessageSizeHighSpeed, d.Stream(hal.DirectionRX).Config().MessageSize)

	// 1024-byte messages carry 252 samples.
	buf := make([]byte, 600*4)
	md := syncstream.Metadata{Flags: metadata.FlagRXNow}
	n, err := d.SyncRX(buf, 600, &md, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 600, n)
	assert.Equal(t, uint64(5000), md.Timestamp)
	for i := 0; i < n; i++ {
		require.Equal(t, uint16(5000+i), sim.RampIndex(buf[i*4:]), "sample %d", i)
	}
}

func TestSync_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	dev := sim.New(sim.Config{SampleRate: 200000})
	d := open(t, dev, Options{Metrics: metrics.New(reg)})

	require.NoError(t, d.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second))
	require.NoError(t, d.SyncConfig(hal.LayoutTXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second))

	buf := make([]byte, 2048*4)
	n, err := d.SyncRX(buf, 2048, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2048, n)
	require.NoError(t, d.SyncTX(buf, 2048, nil, time.Second))

	assert.Equal(t, 2048.0, counter(t, reg, "bladerf_stream_samples_total", "rx"))
	assert.Equal(t, 2048.0, counter(t, reg, "bladerf_stream_samples_total", "tx"))
	assert.Equal(t, 2.0, counter(t, reg, "bladerf_stream_buffers_total", "tx"))
	assert.GreaterOrEqual(t, counter(t, reg, "bladerf_stream_buffers_total", "rx"), 2.0)
}

func TestClose(t *testing.T) {
	d, err := Open(sim.New(sim.Config{SampleRate: 200000}), Options{})
	require.NoError(t, err)
	require.NoError(t, d.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second))
	require.NoError(t, d.SyncConfig(hal.LayoutTXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second))

	buf := make([]byte, 1024*4)
	_, err = d.SyncRX(buf, 1024, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, d.SyncTX(buf, 1024, nil, time.Second))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.SyncRX(buf, 1024, nil, time.Second)
	assert.ErrorIs(t, err, pkg.ErrClosed)
	assert.ErrorIs(t, d.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11, 16, 1024, 4, time.Second), pkg.ErrClosed)
}
