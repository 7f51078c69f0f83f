package registry

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/lattice-sec/linkwatch/internal/logger"
)

const ownershipWindow = 30 * time.Second

// ParanoidChecker is the subset of the settings contract the registry
// needs: whether newly discovered devices should be auto-blocked. Defined
// here rather than imported from internal/settings to keep the registry
// free of a dependency on the settings package's JSON/file concerns.
type ParanoidChecker interface {
	IsParanoidMode() bool
}

// DomainLimiter optionally supplies the configured ceiling for a Device's
// domains list (settings key domain_log_limit); satisfied by
// *settings.Provider. Kept separate from ParanoidChecker, and checked via
// type assertion, so callers/tests that build a Registry from a narrower
// settings stub aren't forced to implement it.
type DomainLimiter interface {
	DomainLogLimit() int
}

// Registry is the in-memory, MAC-keyed device table. A single mutex guards
// the whole map; callers needing to iterate without holding the lock across
// other work should call Snapshot first.
type Registry struct {
	mu       sync.Mutex
	devices  map[string]*Device
	settings ParanoidChecker
	log      *logger.Logger
	now      func() time.Time
}

// New creates an empty registry. settings may be nil, in which case
// paranoid mode is treated as always off.
func New(settings ParanoidChecker) *Registry {
	return &Registry{
		devices:  make(map[string]*Device),
		settings: settings,
		log:      logger.NewComponentLogger("registry"),
		now:      time.Now,
	}
}

func (r *Registry) nowUnix() float64 {
	return float64(r.now().UnixNano()) / float64(time.Second)
}

// domainLimit resolves the current per-device domain ceiling from the
// settings source, falling back to the package default when none is
// configured or the settings value doesn't implement DomainLimiter.
func (r *Registry) domainLimit() int {
	if dl, ok := r.settings.(DomainLimiter); ok {
		if limit := dl.DomainLogLimit(); limit > 0 {
			return limit
		}
	}
	return defaultMaxDomains
}

// AddOrUpdate records a sighting of mac at the link layer, optionally with
// an observed IP and vendor label. It is the single entry point for
// updating a device from any discovery or traffic-accounting source.
//
// IP-conflict arbitration: if ip is currently owned by a different MAC that
// was seen within the last 30 seconds, the incoming sighting does not take
// the IP (it keeps whatever IP it already had, or none for a brand-new
// device). Once the current owner has been silent for 30s or more, the IP
// is free for re-assignment. Vendor labels only overwrite an "Unknown" or
// "Private/Random" placeholder, never a previously-learned real vendor.
func (r *Registry) AddOrUpdate(mac, ip, vendor string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowUnix()
	nowTime := r.now()

	if ip != "" {
		for otherMAC, dev := range r.devices {
			if otherMAC == mac || dev.IP != ip {
				continue
			}
			if nowTime.Sub(floatToTime(dev.LastSeen)) >= ownershipWindow {
				dev.IP = ""
			}
		}
	}

	activeOwner := func(candidateMAC string) bool {
		if ip == "" {
			return false
		}
		for otherMAC, dev := range r.devices {
			if otherMAC == candidateMAC {
				continue
			}
			if dev.IP == ip && nowTime.Sub(floatToTime(dev.LastSeen)) < ownershipWindow {
				return true
			}
		}
		return false
	}

	dev, exists := r.devices[mac]
	if exists {
		if !activeOwner(mac) && ip != "" {
			dev.IP = ip
			dev.LastKnownIP = ip
		}
		dev.LastSeen = now
		if vendor != "" && (dev.Vendor == "" || dev.Vendor == "Unknown" || dev.Vendor == "Private/Random") {
			dev.Vendor = vendor
		}
		return dev
	}

	assignedIP := ip
	if activeOwner(mac) {
		assignedIP = ""
	}

	blocked := false
	if r.settings != nil && r.settings.IsParanoidMode() {
		blocked = true
		r.log.Info("paranoid mode: auto-blocking new device %s", mac)
	}

	if vendor == "" {
		vendor = "Unknown"
	}

	dev = &Device{
		MAC:         mac,
		IP:          assignedIP,
		LastKnownIP: assignedIP,
		Vendor:      vendor,
		Category:    CategoryUnknown,
		Services:    []string{},
		Domains:     []string{},
		LastSeen:    now,
		IsBlocked:   blocked,
	}
	r.devices[mac] = dev
	return dev
}

func floatToTime(unixSeconds float64) time.Time {
	return time.Unix(0, int64(unixSeconds*float64(time.Second)))
}

// MarkStale clears the IP of any device not seen within threshold, keeping
// the device record (and its history) but treating it as currently
// off-link.
func (r *Registry) MarkStale(threshold time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, dev := range r.devices {
		if dev.IP != "" && now.Sub(floatToTime(dev.LastSeen)) > threshold {
			r.log.Info("marking device %s (%s) as stale due to inactivity", dev.MAC, dev.IP)
			dev.IP = ""
		}
	}
}

// LookupByMAC returns the device for mac, or nil if unknown. The returned
// pointer aliases the stored device; callers outside the registry package
// should treat it as read-only except through registry methods.
func (r *Registry) LookupByMAC(mac string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[mac]
}

// LookupByIP returns the device currently holding ip, or nil.
func (r *Registry) LookupByIP(ip string) *Device {
	if ip == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range r.devices {
		if dev.IP == ip {
			return dev
		}
	}
	return nil
}

// MACsForIP returns every MAC address currently or recently (within window)
// associated with ip. Used by the monitor to resolve spoofing targets
// without a fresh ARP request when the registry already has a recent
// sighting.
func (r *Registry) MACsForIP(ip string, window time.Duration) []string {
	if ip == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var macs []string
	for mac, dev := range r.devices {
		if dev.IP == ip && now.Sub(floatToTime(dev.LastSeen)) < window {
			macs = append(macs, mac)
		}
	}
	return macs
}

// SetIPv6 records a global IPv6 address observed from mac.
func (r *Registry) SetIPv6(mac, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.IPv6 = ip
	}
}

// Snapshot returns a shallow copy of the device map for lock-free
// iteration. The Device pointers are shared with the registry, so callers
// must not mutate them outside registry methods.
func (r *Registry) Snapshot() map[string]*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Device, len(r.devices))
	for mac, dev := range r.devices {
		out[mac] = dev
	}
	return out
}

// AllDevices returns every known device as a slice, in no particular order.
func (r *Registry) AllDevices() []*Device {
	snap := r.Snapshot()
	out := make([]*Device, 0, len(snap))
	for _, dev := range snap {
		out = append(out, dev)
	}
	return out
}

// AddService records an mDNS/SSDP service string against mac's device,
// bounded and deduplicated per the ≤10 services invariant.
func (r *Registry) AddService(mac, service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.addService(service)
	}
}

// AddDomain records an observed SNI/DNS domain against mac's device,
// deduplicated and bounded by the configured domain_log_limit (20 when no
// limit is configured).
func (r *Registry) AddDomain(mac, domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.addDomain(domain, r.domainLimit())
		dev.LastSNI = domain
	}
}

// AccountTraffic adds upBytes/downBytes to mac's running totals. Both
// counters are monotonic for the lifetime of the device record.
func (r *Registry) AccountTraffic(mac string, upBytes, downBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.TotalUp += upBytes
		dev.TotalDown += downBytes
	}
}

// SetClassification stores the classifier's verdict for mac.
func (r *Registry) SetClassification(mac string, category Category, confidence int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.Category = category
		dev.Confidence = confidence
	}
}

// SetHostname records a resolved hostname for mac if one isn't already set,
// the only registry-mutex-protected way enrichment loops should touch it.
func (r *Registry) SetHostname(mac, hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok && dev.Hostname == "" {
		dev.Hostname = hostname
	}
}

// SetBlocked sets the manual block flag (IsBlocked) for mac.
func (r *Registry) SetBlocked(mac string, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.IsBlocked = blocked
	}
}

// SetSchedule sets the HH:MM block-window bounds for mac.
func (r *Registry) SetSchedule(mac, start, end string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[mac]; ok {
		dev.ScheduleStart = start
		dev.ScheduleEnd = end
	}
}

// Save writes every device to path as indented JSON, keyed by MAC.
func (r *Registry) Save(path string) error {
	snap := r.Snapshot()
	data := make(map[string]*Device, len(snap))
	for mac, dev := range snap {
		data[mac] = dev
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return err
	}
	r.log.Info("saved %d devices to %s", len(data), path)
	return nil
}

// Load reads devices from path, a file previously written by Save. Missing
// files are not an error (the registry simply starts empty); a malformed
// individual entry is skipped and logged rather than aborting the whole
// load.
func (r *Registry) Load(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for mac, rawDev := range data {
		var dev Device
		if err := json.Unmarshal(rawDev, &dev); err != nil {
			r.log.Error("error loading device %s: %v", mac, err)
			continue
		}
		dev.MAC = mac
		r.devices[mac] = &dev
		count++
	}
	r.log.Info("loaded %d devices from %s", count, path)
	return nil
}
