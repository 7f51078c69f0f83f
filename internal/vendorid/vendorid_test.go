package vendorid

import (
	"os"
	"path/filepath"
	"testing"
)

func writeOUIFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mac-vendors.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLookupKnownVendor(t *testing.T) {
	path := writeOUIFile(t, "001A2B:Acme Networks", "B87CF2:Extreme Networks")
	oracle, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	tests := []struct {
		name string
		mac  string
		want string
	}{
		{"exact match", "00:1A:2B:3C:4D:5E", "Acme Networks"},
		{"dash separated", "B8-7C-F2-00-00-01", "Extreme Networks"},
		{"unknown prefix", "A8:BB:CC:00:00:00", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := oracle.Lookup(tt.mac); got != tt.want {
				t.Errorf("Lookup(%s) = %q, want %q", tt.mac, got, tt.want)
			}
		})
	}
}

func TestLookupLocallyAdministeredOverridesTable(t *testing.T) {
	path := writeOUIFile(t, "021A2B:Should Not Win")
	oracle, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	// 0x02 = 0b00000010, locally administered bit set.
	if got := oracle.Lookup("02:1A:2B:00:00:00"); got != privateRandom {
		t.Errorf("Lookup = %q, want %q", got, privateRandom)
	}
}

func TestNewOracleUnknownWithoutFile(t *testing.T) {
	oracle := NewOracle()
	if got := oracle.Lookup("00:1A:2B:3C:4D:5E"); got != "Unknown" {
		t.Errorf("Lookup = %q, want Unknown", got)
	}
}

func TestLoadFileSkipsMalformedLines(t *testing.T) {
	path := writeOUIFile(t, "not a valid line", "001A2B:Good Vendor", "TOOLONGPREFIX:Bad")
	oracle, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := oracle.Lookup("00:1A:2B:00:00:00"); got != "Good Vendor" {
		t.Errorf("Lookup = %q, want Good Vendor", got)
	}
}
