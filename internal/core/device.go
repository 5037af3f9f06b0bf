package core

import "fmt"

// DeviceKind distinguishes audio input from output endpoints.
type DeviceKind string

const (
	DeviceInput  DeviceKind = "input"
	DeviceOutput DeviceKind = "output"
)

// DeviceId is a stable triple identifying a physical audio endpoint across
// enumerations (spec §3). Two devices are equivalent iff all three fields
// match.
type DeviceId struct {
	HostAPI string
	Index   int
	Name    string
}

// Equal reports whether two DeviceIds name the same endpoint.
func (d DeviceId) Equal(other DeviceId) bool {
	return d.HostAPI == other.HostAPI && d.Index == other.Index && d.Name == other.Name
}

// IsZero reports whether d is the unset DeviceId.
func (d DeviceId) IsZero() bool {
	return d == DeviceId{}
}

func (d DeviceId) String() string {
	return fmt.Sprintf("%s:%d:%s", d.HostAPI, d.Index, d.Name)
}

// RestartReport is the concrete return value of restart_capture (spec §6
// leaves its shape implicit; fixed here since Go needs a concrete type).
type RestartReport struct {
	OK        bool
	Device    string
	ElapsedMs int64
	Reason    string
}
