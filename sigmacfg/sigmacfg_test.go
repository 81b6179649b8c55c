package sigmacfg

import "testing"

func TestDefaultProfileIsComplete(t *testing.T) {
	p := defaultProfile()
	if p.FirmwareDir == "" {
		t.Fatalf("default profile has empty FirmwareDir")
	}
	for idx := 0; idx < 5; idx++ {
		if _, ok := p.FirmwareFiles[idx]; !ok {
			t.Fatalf("default profile missing firmware file name for index %d", idx)
		}
	}
	if p.USBVendorID == 0 || p.USBProductID == 0 {
		t.Fatalf("default profile has zero USB ID: vid=0x%04X pid=0x%04X", p.USBVendorID, p.USBProductID)
	}
}

func TestFallbackProfileMatchesDefault(t *testing.T) {
	// Load's fallback path returns defaultProfile() verbatim when no
	// sigma.toml is found or its [sigma] table fails to unmarshal. Rather
	// than depend on cwd/host config discovery, this checks that
	// defaultProfile() returns the same profile on every call.
	want := defaultProfile()
	got := defaultProfile()
	if got.FirmwareDir != want.FirmwareDir || got.USBVendorID != want.USBVendorID || got.USBProductID != want.USBProductID {
		t.Fatalf("defaultProfile() is not stable across calls")
	}
	for idx, name := range want.FirmwareFiles {
		if got.FirmwareFiles[idx] != name {
			t.Fatalf("firmware file for index %d = %q, want %q", idx, got.FirmwareFiles[idx], name)
		}
	}
}
