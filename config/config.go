package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/device/class/trans"
	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/device/hal/sim"
	"github.com/ardnew/softgadget/pkg"
)

// Section names.
const (
	SectionDevice        = "device"
	SectionConfiguration = "configuration"
	SectionUDC           = "udc"
	SectionTrans         = "trans"
	SectionLog           = "log"
)

// Config is the layout of a gadget: the composite device identity, its
// single configuration, the controller it runs on and the transport
// function parameters.
type Config struct {
	Device        DeviceConfig
	Configuration ConfigurationConfig
	UDC           UDCConfig
	Trans         TransConfig
	Log           LogConfig
}

// DeviceConfig holds the device descriptor identity.
type DeviceConfig struct {
	VendorID     uint16
	ProductID    uint16
	Release      uint16 // bcdDevice
	Manufacturer string
	Product      string
	Serial       string
}

// ConfigurationConfig holds the configuration descriptor attributes.
type ConfigurationConfig struct {
	Value        uint8
	MaxPower     int // mA
	SelfPowered  bool
	RemoteWakeup bool
}

// UDCConfig describes the device controller.
type UDCConfig struct {
	Name        string
	Speed       hal.Speed // negotiated speed
	MaxSpeed    hal.Speed
	Endpoints   []string // controller endpoint names, e.g. "ep1in-bulk"
	PacketLimit uint16   // FIFO size of every endpoint
}

// TransConfig holds the transport function's data path parameters.
type TransConfig struct {
	QueueLength  int
	BufferLength int
}

// LogConfig selects the level and handler of the pkg logger.
type LogConfig struct {
	Level  slog.Level
	Format pkg.LogFormat
}

// Default returns the layout used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:     0x1d6b,
			ProductID:    0x0104,
			Release:      0x0100,
			Manufacturer: "softgadget",
			Product:      "Gadget Transport",
			Serial:       "0001",
		},
		Configuration: ConfigurationConfig{
			Value:    1,
			MaxPower: 100,
		},
		UDC: UDCConfig{
			Name:        "sim0",
			Speed:       hal.SpeedHigh,
			MaxSpeed:    hal.SpeedSuper,
			Endpoints:   append([]string(nil), sim.DefaultEndpoints...),
			PacketLimit: sim.DefaultPacketLimit,
		},
		Trans: TransConfig{
			QueueLength:  trans.DefaultQueueLength,
			BufferLength: trans.DefaultBufferLength,
		},
		Log: LogConfig{
			Level:  slog.LevelWarn,
			Format: pkg.LogFormatText,
		},
	}
}

// Load reads and validates the configuration file at path. Keys missing
// from the file keep their Default values.
func Load(path string) (*Config, error) {
	inifile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	conf, err := decode(inifile)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	pkg.LogInfo(pkg.ComponentConfig, "configuration loaded",
		"path", path,
		"udc", conf.UDC.Name,
		"speed", conf.UDC.Speed.String())
	return conf, nil
}

// Parse reads and validates configuration text.
func Parse(data []byte) (*Config, error) {
	inifile, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return decode(inifile)
}

func decode(inifile *ini.File) (*Config, error) {
	conf := Default()

	if section, _ := inifile.GetSection(SectionDevice); section != nil {
		if err := loadUint16(section, "vendor-id", &conf.Device.VendorID); err != nil {
			return nil, err
		}
		if err := loadUint16(section, "product-id", &conf.Device.ProductID); err != nil {
			return nil, err
		}
		if err := loadUint16(section, "release", &conf.Device.Release); err != nil {
			return nil, err
		}
		loadString(section, "manufacturer", &conf.Device.Manufacturer)
		loadString(section, "product", &conf.Device.Product)
		loadString(section, "serial", &conf.Device.Serial)
	}

	if section, _ := inifile.GetSection(SectionConfiguration); section != nil {
		value := uint16(conf.Configuration.Value)
		if err := loadUint16(section, "value", &value); err != nil {
			return nil, err
		}
		if value > 0xFF {
			return nil, fmt.Errorf("[%s] value %d: out of range: %w",
				SectionConfiguration, value, pkg.ErrInvalidParameter)
		}
		conf.Configuration.Value = uint8(value)
		if err := loadInt(section, "max-power", &conf.Configuration.MaxPower); err != nil {
			return nil, err
		}
		if err := loadBool(section, "self-powered", &conf.Configuration.SelfPowered); err != nil {
			return nil, err
		}
		if err := loadBool(section, "remote-wakeup", &conf.Configuration.RemoteWakeup); err != nil {
			return nil, err
		}
	}

	if section, _ := inifile.GetSection(SectionUDC); section != nil {
		loadString(section, "name", &conf.UDC.Name)
		if err := loadSpeed(section, "speed", &conf.UDC.Speed); err != nil {
			return nil, err
		}
		if err := loadSpeed(section, "max-speed", &conf.UDC.MaxSpeed); err != nil {
			return nil, err
		}
		if key, _ := section.GetKey("endpoints"); key != nil {
			conf.UDC.Endpoints = strings.Fields(key.String())
		}
		if err := loadUint16(section, "packet-limit", &conf.UDC.PacketLimit); err != nil {
			return nil, err
		}
	}

	if section, _ := inifile.GetSection(SectionTrans); section != nil {
		if err := loadInt(section, "qlen", &conf.Trans.QueueLength); err != nil {
			return nil, err
		}
		if err := loadInt(section, "buflen", &conf.Trans.BufferLength); err != nil {
			return nil, err
		}
	}

	if section, _ := inifile.GetSection(SectionLog); section != nil {
		if key, _ := section.GetKey("level"); key != nil {
			level, err := pkg.ParseLogLevel(key.String())
			if err != nil {
				return nil, fmt.Errorf("[%s] level: %w", SectionLog, err)
			}
			conf.Log.Level = level
		}
		if key, _ := section.GetKey("format"); key != nil {
			format, err := pkg.ParseLogFormat(key.String())
			if err != nil {
				return nil, fmt.Errorf("[%s] format: %w", SectionLog, err)
			}
			conf.Log.Format = format
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the configuration for values the device cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Configuration.Value == 0:
		return fmt.Errorf("[%s] value must not be 0: %w", SectionConfiguration, pkg.ErrInvalidParameter)
	case c.Configuration.MaxPower < 0 || c.Configuration.MaxPower > 2*0xFF:
		return fmt.Errorf("[%s] max-power %d mA: out of range: %w",
			SectionConfiguration, c.Configuration.MaxPower, pkg.ErrInvalidParameter)
	case c.UDC.Speed == hal.SpeedUnknown:
		return fmt.Errorf("[%s] speed not set: %w", SectionUDC, pkg.ErrInvalidParameter)
	case c.UDC.Speed > c.UDC.MaxSpeed:
		return fmt.Errorf("[%s] speed %s above max-speed %s: %w",
			SectionUDC, c.UDC.Speed, c.UDC.MaxSpeed, pkg.ErrInvalidParameter)
	case len(c.UDC.Endpoints) == 0:
		return fmt.Errorf("[%s] no endpoints: %w", SectionUDC, pkg.ErrInvalidParameter)
	case c.Trans.QueueLength <= 0:
		return fmt.Errorf("[%s] qlen %d: %w", SectionTrans, c.Trans.QueueLength, pkg.ErrInvalidParameter)
	case c.Trans.BufferLength <= 0:
		return fmt.Errorf("[%s] buflen %d: %w", SectionTrans, c.Trans.BufferLength, pkg.ErrInvalidParameter)
	}
	for _, name := range c.UDC.Endpoints {
		if _, err := hal.ParseEndpointName(name); err != nil {
			return fmt.Errorf("[%s] endpoints: %w", SectionUDC, err)
		}
	}
	return nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}

	inifile := ini.Empty()
	set := func(section, key, value string) {
		inifile.Section(section).Key(key).SetValue(value)
	}

	set(SectionDevice, "vendor-id", hex16(c.Device.VendorID))
	set(SectionDevice, "product-id", hex16(c.Device.ProductID))
	set(SectionDevice, "release", hex16(c.Device.Release))
	set(SectionDevice, "manufacturer", c.Device.Manufacturer)
	set(SectionDevice, "product", c.Device.Product)
	set(SectionDevice, "serial", c.Device.Serial)

	set(SectionConfiguration, "value", strconv.Itoa(int(c.Configuration.Value)))
	set(SectionConfiguration, "max-power", strconv.Itoa(c.Configuration.MaxPower))
	set(SectionConfiguration, "self-powered", strconv.FormatBool(c.Configuration.SelfPowered))
	set(SectionConfiguration, "remote-wakeup", strconv.FormatBool(c.Configuration.RemoteWakeup))

	set(SectionUDC, "name", c.UDC.Name)
	set(SectionUDC, "speed", speedName(c.UDC.Speed))
	set(SectionUDC, "max-speed", speedName(c.UDC.MaxSpeed))
	set(SectionUDC, "endpoints", strings.Join(c.UDC.Endpoints, " "))
	set(SectionUDC, "packet-limit", strconv.Itoa(int(c.UDC.PacketLimit)))

	set(SectionTrans, "qlen", strconv.Itoa(c.Trans.QueueLength))
	set(SectionTrans, "buflen", strconv.Itoa(c.Trans.BufferLength))

	set(SectionLog, "level", strings.ToLower(c.Log.Level.String()))
	set(SectionLog, "format", c.Log.Format.String())

	if err := inifile.SaveTo(path); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	pkg.LogDebug(pkg.ComponentConfig, "configuration saved", "path", path)
	return nil
}

// DeviceDescriptor returns the device descriptor for the configured
// identity. String indices are assigned by the composite.
func (c *Config) DeviceDescriptor() *device.DeviceDescriptor {
	return &device.DeviceDescriptor{
		USBVersion:     usbVersion(c.UDC.MaxSpeed),
		VendorID:       c.Device.VendorID,
		ProductID:      c.Device.ProductID,
		DeviceVersion:  c.Device.Release,
		MaxPacketSize0: 64,
	}
}

// NewConfiguration returns the configured device configuration.
func (c *Config) NewConfiguration() *device.Configuration {
	config := device.NewConfiguration(c.Configuration.Value)
	config.MaxPower = uint8(c.Configuration.MaxPower / 2)
	config.SetSelfPowered(c.Configuration.SelfPowered)
	config.SetRemoteWakeup(c.Configuration.RemoteWakeup)
	return config
}

// SimOptions returns the options that build a simulated controller with
// the configured layout.
func (c *Config) SimOptions() []sim.Option {
	return []sim.Option{
		sim.WithName(c.UDC.Name),
		sim.WithSpeed(c.UDC.Speed),
		sim.WithMaxSpeed(c.UDC.MaxSpeed),
		sim.WithEndpoints(c.UDC.Endpoints...),
		sim.WithPacketLimit(c.UDC.PacketLimit),
	}
}

// ApplyLogging configures the pkg logger.
func (c *Config) ApplyLogging() {
	pkg.SetLogLevel(c.Log.Level)
	pkg.SetLogFormat(c.Log.Format)
}

// Apply sets the configured data path parameters on t.
func (c *Config) Apply(t *trans.Trans) error {
	if err := t.SetQueueLength(c.Trans.QueueLength); err != nil {
		return err
	}
	return t.SetBufferLength(c.Trans.BufferLength)
}

func loadString(section *ini.Section, name string, out *string) {
	if key, _ := section.GetKey(name); key != nil {
		*out = key.String()
	}
}

// loadUint16 accepts decimal, 0x-prefixed hex and 0-prefixed octal.
func loadUint16(section *ini.Section, name string, out *uint16) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(key.String()), 0, 16)
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", section.Name(), name, pkg.ErrInvalidParameter)
	}
	*out = uint16(v)
	return nil
}

func loadInt(section *ini.Section, name string, out *int) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}
	v, err := key.Int()
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", section.Name(), name, pkg.ErrInvalidParameter)
	}
	*out = v
	return nil
}

func loadBool(section *ini.Section, name string, out *bool) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}
	v, err := key.Bool()
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", section.Name(), name, pkg.ErrInvalidParameter)
	}
	*out = v
	return nil
}

func loadSpeed(section *ini.Section, name string, out *hal.Speed) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}
	s, err := hal.ParseSpeed(key.String())
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", section.Name(), name, err)
	}
	*out = s
	return nil
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

func speedName(s hal.Speed) string {
	switch s {
	case hal.SpeedLow:
		return "low"
	case hal.SpeedFull:
		return "full"
	case hal.SpeedHigh:
		return "high"
	case hal.SpeedSuper:
		return "super"
	}
	return ""
}

// usbVersion returns bcdUSB for a controller's fastest speed.
func usbVersion(maxSpeed hal.Speed) uint16 {
	if maxSpeed >= hal.SpeedSuper {
		return 0x0300
	}
	return 0x0200
}
