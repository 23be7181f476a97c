// Package device opens a streaming backend as a board with one sync stream
// per direction.
//
// [Open] reads the link speed once to choose the metadata message size: 2048
// bytes at SuperSpeed and 1024 at high speed. [Device.SyncConfig] checks the
// requested format against the device [hal.Capability] bits before building
// a [syncstream.Handle]; calling it again replaces the stream of that
// direction.
//
//	dev, err := device.Open(sim.New(sim.Config{}), device.Options{})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	err = dev.SyncConfig(hal.LayoutRXX1, hal.FormatSC16Q11Meta, 16, 8192, 8, time.Second)
//	md := syncstream.Metadata{Flags: metadata.FlagRXNow}
//	n, err := dev.SyncRX(buf, 4096, &md, time.Second)
package device
