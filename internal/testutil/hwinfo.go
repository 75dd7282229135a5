package testutil

import "foliosync/internal/hwinfo"

// StubCollector returns a fixed hardware descriptor snapshot.
type StubCollector struct {
	Info hwinfo.Info
	Err  error
}

// NewStubCollector creates a collector with stable, fully populated
// descriptors.
func NewStubCollector() *StubCollector {
	return &StubCollector{
		Info: hwinfo.Info{
			MachineID:   "9f2c1a7e44b84f0f9d0c1b2a3e4d5f60",
			ProductUUID: "C0FFEE00-1234-5678-9ABC-DEF012345678",
			PrimaryMAC:  "02:42:ac:11:00:02",
			Hostname:    "front-desk-01",
			Platform:    "linux",
			Arch:        "amd64",
		},
	}
}

func (c *StubCollector) Collect() (hwinfo.Info, error) {
	return c.Info, c.Err
}
