package discovery

import "time"

// hostnameEnrichmentLoop periodically attempts reverse-DNS resolution for
// devices that still have no hostname after mDNS enrichment has had a
// chance to run.
func (e *Engine) hostnameEnrichmentLoop() {
	defer e.wg.Done()

	select {
	case <-e.ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.enrichHostnames()
		}
	}
}

func (e *Engine) enrichHostnames() {
	for _, dev := range e.reg.AllDevices() {
		if dev.IP == "" || dev.Hostname != "" {
			continue
		}

		select {
		case <-e.ctx.Done():
			return
		default:
		}

		mac := dev.MAC
		ip := dev.IP
		go func() {
			result := <-e.hostRes.ResolveAsync(ip, "")
			if result.Error == nil && result.Hostname != "" {
				e.reg.SetHostname(mac, result.Hostname)
				e.log.Info("resolved hostname for %s: %s (%s)", mac, result.Hostname, result.Method)
			}
		}()

		time.Sleep(time.Second)
	}
}
