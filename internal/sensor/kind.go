// Package sensor adapts physical sensor sources to sample buffers.
package sensor

import "codeberg.org/mutker/sensorpipe/internal/errors"

// Kind identifies a supported sensor type.
type Kind int

const (
	KindUnknown Kind = iota
	Accelerometer
	MagneticField
	Gyroscope
	Light
	Pressure
	LinearAcceleration
)

type kindInfo struct {
	name       string
	platformID int
	axes       int
}

// Platform identifiers follow the Android sensor type constants, which is
// what sensor bridges report.
var kinds = map[Kind]kindInfo{
	Accelerometer:      {"accelerometer", 1, 3},
	MagneticField:      {"magnetic_field", 2, 3},
	Gyroscope:          {"gyroscope", 4, 3},
	Light:              {"light", 5, 1},
	Pressure:           {"pressure", 6, 1},
	LinearAcceleration: {"linear_acceleration", 10, 3},
}

// ParseKind resolves a configured sensor name.
func ParseKind(name string) (Kind, error) {
	for k, info := range kinds {
		if info.name == name {
			return k, nil
		}
	}
	return KindUnknown, errors.New().WithData(ErrUnknownKind, name)
}

// Kinds returns all supported kinds in declaration order.
func Kinds() []Kind {
	return []Kind{Accelerometer, MagneticField, Gyroscope, Light, Pressure, LinearAcceleration}
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// PlatformID returns the platform sensor type constant.
func (k Kind) PlatformID() int {
	return kinds[k].platformID
}

// Axes returns how many values an event of this kind carries.
func (k Kind) Axes() int {
	return kinds[k].axes
}

func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}
