package libusb

// USB identity and streaming interface of a bladeRF.
const (
	DefaultVendorID   = 0x2cf0
	DefaultProductID  = 0x5246
	DefaultConfig     = 1
	DefaultInterface  = 0
	DefaultAltSetting = 1
	DefaultRXEndpoint = 1
	DefaultTXEndpoint = 1
)

// Config selects the device and endpoints. Zero fields take the bladeRF
// defaults. Endpoint fields are endpoint numbers without the direction bit.
type Config struct {
	VendorID   uint16
	ProductID  uint16
	Config     int
	Interface  int
	AltSetting int
	RXEndpoint int
	TXEndpoint int
}

func (c *Config) setDefaults() {
	if c.VendorID == 0 && c.ProductID == 0 {
		c.VendorID = DefaultVendorID
		c.ProductID = DefaultProductID
	}
	if c.Config == 0 {
		c.Config = DefaultConfig
	}
	if c.AltSetting == 0 {
		c.AltSetting = DefaultAltSetting
	}
	if c.RXEndpoint == 0 {
		c.RXEndpoint = DefaultRXEndpoint
	}
	if c.TXEndpoint == 0 {
		c.TXEndpoint = DefaultTXEndpoint
	}
}
