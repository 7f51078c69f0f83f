package classifier

import (
	"testing"

	"github.com/lattice-sec/linkwatch/internal/registry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		vendor         string
		hostname       string
		services       []string
		wantCategory   registry.Category
		wantConfidence int
	}{
		{"raspberry pi server", "Raspberry Pi Foundation", "", nil, registry.CategoryServer, 90},
		{"dell laptop", "Dell Inc.", "", nil, registry.CategoryPC, 80},
		{"xiaomi phone", "Xiaomi Communications", "", nil, registry.CategoryMobile, 60},
		{"apple default mobile", "Apple, Inc.", "", nil, registry.CategoryMobile, 40},
		{"apple macbook", "Apple, Inc.", "Johns-MacBook-Pro", nil, registry.CategoryPC, 80},
		{"apple iphone", "Apple, Inc.", "Johns-iPhone", nil, registry.CategoryMobile, 90},
		{"apple watch", "Apple, Inc.", "Johns-Apple-Watch", nil, registry.CategoryMobile, 95},
		{"apple tv hostname", "Apple, Inc.", "Living-Room-tv", nil, registry.CategoryMedia, 95},
		{"samsung tv by hostname", "Samsung Electronics", "Samsung-tv", nil, registry.CategoryMedia, 90},
		{"intel nuc as android", "Intel Corporate", "android-box", nil, registry.CategoryMobile, 60},
		{"private random mac", "Private/Random", "", nil, registry.CategoryMobile, 60},
		{"unknown vendor", "Totally Unknown Corp", "", nil, registry.CategoryUnknown, 0},
		{"chromecast overrides vendor", "Google, Inc.", "", []string{"_googlecast._tcp"}, registry.CategoryMedia, 99},
		{"printer service overrides vendor", "Unknown", "", []string{"_ipp._tcp"}, registry.CategoryPrinter, 99},
		{"cisco router", "Cisco Systems", "", nil, registry.CategoryRouter, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &registry.Device{Vendor: tt.vendor, Hostname: tt.hostname, Services: tt.services}
			gotCat, gotConf := Classify(dev)
			if gotCat != tt.wantCategory || gotConf != tt.wantConfidence {
				t.Errorf("Classify(%+v) = (%v, %d), want (%v, %d)", dev, gotCat, gotConf, tt.wantCategory, tt.wantConfidence)
			}
		})
	}
}

func TestClassifyDoesNotMutateDevice(t *testing.T) {
	dev := &registry.Device{Vendor: "Dell Inc."}
	Classify(dev)
	if dev.Category != "" {
		t.Errorf("Classify must not mutate the device, got Category=%q", dev.Category)
	}
}
