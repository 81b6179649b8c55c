// Package sigmacfg loads the optional host-side profile describing where
// to find firmware images and how to recognize the device on the USB bus.
// It never reaches into per-acquisition settings (samplerate, triggers,
// limits): those stay on acq.DeviceContext, set directly by the caller.
package sigmacfg

import "github.com/spf13/viper"

// Profile is the bundle of device-identification and firmware-location
// settings a deployment may want to override from a config file.
type Profile struct {
	// FirmwareDir is the directory firmware images (named by
	// fpgaloader.FirmwareName's index) are read from.
	FirmwareDir string

	// FirmwareFiles maps firmware index to file name within FirmwareDir.
	FirmwareFiles map[int]string

	// USBVendorID and USBProductID identify the device on the bus.
	USBVendorID  uint16
	USBProductID uint16
}

// defaultProfile mirrors the teacher's setDefaultConfig: sane values that
// work for at least one real device, used when no config file is found.
func defaultProfile() Profile {
	return Profile{
		FirmwareDir: ".",
		FirmwareFiles: map[int]string{
			0: "sigma_50m.fw",
			1: "sigma_100m.fw",
			2: "sigma_200m.fw",
			3: "sigma_extclk.fw",
			4: "sigma_freqctr.fw",
		},
		USBVendorID:  0x0C53,
		USBProductID: 0xA7A0,
	}
}

// configFields mirror Profile's members one-to-one, for unmarshaling a
// TOML [sigma] table.
type configFields struct {
	FirmwareDir   string         `mapstructure:"firmware_dir"`
	FirmwareFiles map[int]string `mapstructure:"firmware_files"`
	USBVendorID   uint16         `mapstructure:"usb_vendor_id"`
	USBProductID  uint16         `mapstructure:"usb_product_id"`
}

// Load reads an optional "sigma.toml" from the current directory, then
// "/etc/sigma", and unmarshals its [sigma] table into a Profile. If no
// file is found it returns the compiled-in default profile and false.
func Load() (Profile, bool) {
	v := viper.New()
	v.SetConfigName("sigma")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sigma")
	if err := v.ReadInConfig(); err != nil {
		return defaultProfile(), false
	}

	fields := configFields{}
	if err := v.UnmarshalKey("sigma", &fields); err != nil {
		return defaultProfile(), false
	}

	profile := defaultProfile()
	if fields.FirmwareDir != "" {
		profile.FirmwareDir = fields.FirmwareDir
	}
	if fields.FirmwareFiles != nil {
		profile.FirmwareFiles = fields.FirmwareFiles
	}
	if fields.USBVendorID != 0 {
		profile.USBVendorID = fields.USBVendorID
	}
	if fields.USBProductID != 0 {
		profile.USBProductID = fields.USBProductID
	}
	return profile, true
}
