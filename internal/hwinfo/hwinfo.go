// Package hwinfo collects stable hardware descriptors used to derive
// the device identity. Descriptors that cannot be read are substituted
// with the literal "UNKNOWN" so that derivation still succeeds in a
// degraded (less unique) form instead of failing outright.
package hwinfo

import (
	"bytes"
	"errors"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Unknown is the placeholder stored for any descriptor that could not
// be determined on this host.
const Unknown = "UNKNOWN"

// Info is a snapshot of the stable hardware descriptors of this host.
type Info struct {
	MachineID   string `json:"machine_id"`
	ProductUUID string `json:"product_uuid"`
	PrimaryMAC  string `json:"primary_mac"`
	Hostname    string `json:"hostname"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
}

// Fields returns the descriptors in the fixed order used by identity
// derivation. The order is part of the derivation contract and must
// not change between releases.
func (i Info) Fields() []string {
	return []string{i.MachineID, i.ProductUUID, i.PrimaryMAC, i.Hostname, i.Platform, i.Arch}
}

// Degraded reports whether any descriptor fell back to Unknown.
func (i Info) Degraded() bool {
	for _, f := range i.Fields() {
		if f == Unknown {
			return true
		}
	}
	return false
}

// Collector produces hardware descriptor snapshots.
type Collector interface {
	Collect() (Info, error)
}

// OSCollector reads descriptors from the running operating system.
type OSCollector struct{}

// Collect gathers the hardware descriptors for the current platform.
// Individual probe failures degrade to Unknown; the returned error is
// the joined probe errors for logging and is non-nil only when at
// least one probe failed.
func (OSCollector) Collect() (Info, error) {
	var errs []error

	info := Info{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
	}

	machineID, err := readMachineID()
	if err != nil {
		machineID = Unknown
		errs = append(errs, err)
	}
	info.MachineID = machineID

	productUUID, err := readProductUUID()
	if err != nil {
		productUUID = Unknown
		errs = append(errs, err)
	}
	info.ProductUUID = productUUID

	mac, err := primaryMAC()
	if err != nil {
		mac = Unknown
		errs = append(errs, err)
	}
	info.PrimaryMAC = mac

	hostname, err := os.Hostname()
	if err != nil {
		hostname = Unknown
		errs = append(errs, err)
	}
	info.Hostname = hostname

	return info, errors.Join(errs...)
}

// readMachineID returns the OS installation identifier where one
// exists. On platforms without one it falls back to the product UUID
// probe's territory and reports Unknown here.
func readMachineID() (string, error) {
	if runtime.GOOS != "linux" {
		return "", errors.New("machine-id: not available on " + runtime.GOOS)
	}
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		out, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(out))
		if id != "" {
			return id, nil
		}
	}
	return "", errors.New("machine-id: no readable source")
}

// readProductUUID returns the firmware product UUID for the host.
func readProductUUID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		out, err := os.ReadFile("/sys/class/dmi/id/product_uuid")
		if err != nil {
			return "", err
		}
		id := strings.TrimSpace(string(out))
		if id == "" {
			return "", errors.New("product_uuid: empty")
		}
		return id, nil
	case "darwin":
		return ioregPlatformUUID()
	case "windows":
		return wmicProductUUID()
	default:
		return "", errors.New("product uuid: unsupported platform " + runtime.GOOS)
	}
}

func ioregPlatformUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3], nil
		}
	}
	return "", errors.New("no IOPlatformUUID found")
}

func wmicProductUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		str := strings.TrimSpace(string(line))
		if str != "" && !strings.EqualFold(str, "UUID") {
			return str, nil
		}
	}
	return "", errors.New("no product UUID found")
}

// primaryMAC returns the hardware address of the first non-loopback
// interface that has one. Virtual interfaces are skipped by name
// prefix since their addresses are not stable across reboots.
func primaryMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		if strings.HasPrefix(name, "veth") || strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "br-") {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", errors.New("no interface with a hardware address")
}
