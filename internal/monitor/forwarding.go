package monitor

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

const linuxForwardPath = "/proc/sys/net/ipv4/ip_forward"

// enableIPForwarding turns on host IP forwarding, required for the spoofed
// devices' traffic to keep flowing while the host sits in the middle.
// There is no third-party library for this in the example corpus; it is a
// single privileged syscall/file write per platform, so the standard
// library is used directly.
func enableIPForwarding() error {
	return setIPForwarding(true)
}

// disableIPForwarding turns host IP forwarding off on shutdown, whatever
// its setting was before Start.
func disableIPForwarding() error {
	return setIPForwarding(false)
}

func setIPForwarding(on bool) error {
	switch runtime.GOOS {
	case "linux":
		value := "0\n"
		if on {
			value = "1\n"
		}
		return os.WriteFile(linuxForwardPath, []byte(value), 0o644)
	case "darwin":
		value := "0"
		if on {
			value = "1"
		}
		cmd := exec.Command("sysctl", "-w", "net.inet.ip.forwarding="+value)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("sysctl: %w (%s)", err, out)
		}
		return nil
	default:
		return fmt.Errorf("IP forwarding toggle not supported on %s", runtime.GOOS)
	}
}
