// Package classifier assigns a coarse category and confidence score to a
// device based on its vendor label, hostname, and advertised services.
package classifier

import (
	"strings"

	"github.com/lattice-sec/linkwatch/internal/registry"
)

type vendorRule struct {
	key        string
	category   registry.Category
	confidence int
}

// vendorMap is evaluated in order; the first key found as a substring of
// the device's lowercased vendor string wins. Order matters (e.g.
// "philips lighting" must be checked before a hypothetical bare "philips").
var vendorMap = []vendorRule{
	{"apple", registry.CategoryMobile, 50},
	{"samsung", registry.CategoryMobile, 40},
	{"google", registry.CategoryMobile, 50},
	{"xiaomi", registry.CategoryMobile, 60},
	{"oppo", registry.CategoryMobile, 70},
	{"vivo", registry.CategoryMobile, 70},
	{"oneplus", registry.CategoryMobile, 80},
	{"motorola", registry.CategoryMobile, 80},
	{"huawei", registry.CategoryMobile, 50},

	{"intel", registry.CategoryPC, 60},
	{"dell", registry.CategoryPC, 80},
	{"hp", registry.CategoryPC, 80},
	{"lenovo", registry.CategoryPC, 80},
	{"microsoft", registry.CategoryPC, 80},
	{"msi", registry.CategoryPC, 90},
	{"asus", registry.CategoryPC, 70},
	{"acer", registry.CategoryPC, 80},
	{"razer", registry.CategoryPC, 90},

	{"espressif", registry.CategoryIoT, 90},
	{"tuya", registry.CategoryIoT, 90},
	{"nest", registry.CategoryIoT, 90},
	{"ring", registry.CategoryIoT, 90},
	{"wyze", registry.CategoryIoT, 90},
	{"belkin", registry.CategoryIoT, 80},
	{"lifx", registry.CategoryIoT, 95},
	{"philips lighting", registry.CategoryIoT, 95},
	{"signify", registry.CategoryIoT, 90},
	{"google home", registry.CategoryIoT, 95},
	{"amazon technologies", registry.CategoryIoT, 60},
	{"ecobee", registry.CategoryIoT, 95},
	{"august", registry.CategoryIoT, 95},
	{"lutron", registry.CategoryIoT, 95},

	{"roku", registry.CategoryMedia, 95},
	{"sonos", registry.CategoryMedia, 95},
	{"vizio", registry.CategoryMedia, 90},
	{"lg electronics", registry.CategoryMedia, 70},
	{"tcl", registry.CategoryMedia, 80},
	{"hisense", registry.CategoryMedia, 80},
	{"nvidia", registry.CategoryMedia, 60},
	{"bose", registry.CategoryMedia, 90},

	{"cisco", registry.CategoryRouter, 80},
	{"ubiquiti", registry.CategoryRouter, 80},
	{"netgear", registry.CategoryRouter, 80},
	{"synology", registry.CategoryServer, 80},
	{"qnap", registry.CategoryServer, 80},
	{"raspberry", registry.CategoryServer, 90},

	{"nintendo", registry.CategoryMedia, 95},
	{"sony interactive", registry.CategoryMedia, 90},
}

// Classify derives a category and confidence for dev. It never mutates dev;
// callers apply the result via registry.SetClassification.
func Classify(dev *registry.Device) (registry.Category, int) {
	cat := registry.CategoryUnknown
	confidence := 0

	vendorLower := strings.ToLower(dev.Vendor)
	nameLower := strings.ToLower(dev.Hostname)

	for _, rule := range vendorMap {
		if strings.Contains(vendorLower, rule.key) {
			cat = rule.category
			confidence = rule.confidence
			break
		}
	}

	isApple := strings.Contains(vendorLower, "apple")

	// Hostname refinement: one flat, ordered list, first match wins. The
	// Apple cases key off the vendor string itself, so they apply whichever
	// vendor-map row fired above; the remaining cases refine the category
	// that row assigned.
	switch {
	case isApple && strings.Contains(nameLower, "mac"):
		cat, confidence = registry.CategoryPC, 80
	case isApple && (strings.Contains(nameLower, "phone") || strings.Contains(nameLower, "pad")):
		cat, confidence = registry.CategoryMobile, 90
	case isApple && strings.Contains(nameLower, "watch"):
		cat, confidence = registry.CategoryMobile, 95
	case isApple && strings.Contains(nameLower, "tv"):
		cat, confidence = registry.CategoryMedia, 95
	case isApple:
		// Apple's vendor-map row is inherently ambiguous (Mac vs iPhone);
		// absent any hostname signal, iPhone is the most probable guess.
		cat, confidence = registry.CategoryMobile, 40
	case cat == registry.CategoryMobile && strings.Contains(nameLower, "tv"):
		cat, confidence = registry.CategoryMedia, 90
	case cat == registry.CategoryMobile && (strings.Contains(nameLower, "macbook") || strings.Contains(nameLower, "imac")):
		cat, confidence = registry.CategoryPC, 95
	case cat == registry.CategoryPC && strings.Contains(nameLower, "android"):
		cat = registry.CategoryMobile
	}

	// Private/Random MACs are overwhelmingly mobile devices.
	if dev.Vendor == "Private/Random" {
		cat, confidence = registry.CategoryMobile, 60
	}

	// Service discovery is the strongest signal available and overrides
	// every vendor/hostname-derived guess.
	for _, svc := range dev.Services {
		switch {
		case strings.Contains(svc, "googlecast"):
			cat, confidence = registry.CategoryMedia, 99
		case strings.Contains(svc, "printer"), strings.Contains(svc, "ipp"):
			cat, confidence = registry.CategoryPrinter, 99
		}
	}

	if cat != registry.CategoryUnknown && confidence == 0 {
		confidence = 50
	}

	return cat, confidence
}
