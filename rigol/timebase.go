package rigol

import (
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

const (
	// HeaderLen is the number of bytes preceding the samples in a
	// :WAV:DATA? reply
	HeaderLen = 10

	// NormalSampleCount is the length of a :WAV:DATA? reply in NORMAL mode
	NormalSampleCount = 610
)

// ErrUnsupportedConfiguration is matched by every *UnsupportedConfigurationError
var ErrUnsupportedConfiguration = errors.New("unsupported acquisition configuration")

// UnsupportedConfigurationError is returned when the (mode, depth, channels,
// time scale) combination has no known sample count or division count
type UnsupportedConfigurationError struct {
	Mode       AcqMode
	Depth      MemDepth
	Channels   int
	TimeScale  float64
	WhichTable string // "sample count" or "timebase"
}

func (e *UnsupportedConfigurationError) Error() string {
	if e.WhichTable == "timebase" {
		return fmt.Sprintf("%v: no timebase calibration for %s mode, %s memory, %d channel(s) at %g s/div",
			ErrUnsupportedConfiguration, e.Mode, e.Depth, e.Channels, e.TimeScale)
	}
	return fmt.Sprintf("%v: no sample count for %s mode, %s memory, %d channel(s)",
		ErrUnsupportedConfiguration, e.Mode, e.Depth, e.Channels)
}

// Is makes errors.Is(err, ErrUnsupportedConfiguration) true
func (e *UnsupportedConfigurationError) Is(target error) bool {
	return target == ErrUnsupportedConfiguration
}

// SampleCount is the number of bytes :WAV:DATA? returns, header included,
// for the given configuration
func SampleCount(mode AcqMode, depth MemDepth, channels int) (int, error) {
	if mode == AcqNormal {
		return NormalSampleCount, nil
	}
	if mode == AcqRaw {
		switch {
		case depth == DepthNormal && channels == 2:
			return 8202, nil
		case depth == DepthNormal && channels == 1:
			return 16394, nil
		case depth == DepthLong && channels == 2:
			return 524298, nil
		case depth == DepthLong && channels == 1:
			return 1048586, nil
		}
	}
	return 0, &UnsupportedConfigurationError{Mode: mode, Depth: depth, Channels: channels, WhichTable: "sample count"}
}

// TimebaseEntry maps one time scale to the number of divisions the RAW
// readout spans
type TimebaseEntry struct {
	Scale     float64 `koanf:"scale" yaml:"scale"`
	Divisions float64 `koanf:"divisions" yaml:"divisions"`
}

// TimebaseGroup holds the entries for one memory depth and channel count
type TimebaseGroup struct {
	Depth    MemDepth        `koanf:"depth" yaml:"depth"`
	Channels int             `koanf:"channels" yaml:"channels"`
	Entries  []TimebaseEntry `koanf:"entries" yaml:"entries"`
}

// TimebaseTable is the empirical calibration of how many horizontal divisions
// a readout represents.  In NORMAL mode the readout is the screen, Normal
// divisions wide.  In RAW mode it depends on depth, channel count and the
// exact time scale; scales are matched exactly, never interpolated
type TimebaseTable struct {
	Normal float64         `koanf:"normal" yaml:"normal"`
	Raw    []TimebaseGroup `koanf:"raw" yaml:"raw"`
}

// Divisions returns the number of divisions represented by a readout
func (t *TimebaseTable) Divisions(mode AcqMode, depth MemDepth, channels int, timeScale float64) (float64, error) {
	if mode == AcqNormal {
		return t.Normal, nil
	}
	if mode == AcqRaw {
		for _, g := range t.Raw {
			if g.Depth != depth || g.Channels != channels {
				continue
			}
			for _, e := range g.Entries {
				if e.Scale == timeScale {
					return e.Divisions, nil
				}
			}
		}
	}
	return 0, &UnsupportedConfigurationError{
		Mode: mode, Depth: depth, Channels: channels, TimeScale: timeScale, WhichTable: "timebase"}
}

func group(depth MemDepth, channels int, scales, divs []float64) TimebaseGroup {
	g := TimebaseGroup{Depth: depth, Channels: channels, Entries: make([]TimebaseEntry, len(scales))}
	for i := range scales {
		g.Entries[i] = TimebaseEntry{Scale: scales[i], Divisions: divs[i]}
	}
	return g
}

// DefaultTimebaseTable returns the calibration measured on a DS1102E.
// The LONG memory entries were measured with two channels and are provisional
// for one
func DefaultTimebaseTable() *TimebaseTable {
	normalScales := []float64{50e-3, 20e-3, 10e-3, 5e-3, 2e-3, 1e-3, 500e-6, 200e-6, 100e-6, 50e-6, 20e-6, 10e-6, 5e-6, 2e-6}
	longScales := []float64{500e-3, 200e-3, 100e-3, 50e-3, 20e-3, 10e-3, 5e-3, 2e-3, 1e-3, 500e-6, 200e-6, 100e-6, 50e-6, 20e-6, 10e-6, 5e-6}
	longDivs := []float64{12, 12, 12, 12, 26, 26, 21, 26, 26, 21, 26, 52.5, 105, 262, 524, 1048}
	return &TimebaseTable{
		Normal: 12,
		Raw: []TimebaseGroup{
			group(DepthNormal, 1, normalScales, []float64{12, 82, 66, 66, 82, 66, 66, 82, 66, 66, 82, 66, 66, 82}),
			group(DepthNormal, 2, normalScales, []float64{12, 41, 33, 33, 41, 33, 33, 41, 33, 33, 41, 33, 33, 41}),
			group(DepthLong, 1, longScales, longDivs),
			group(DepthLong, 2, longScales, longDivs),
		},
	}
}

// LoadTimebaseTable reads a table from a YAML file with the layout
//
//	normal: 12
//	raw:
//	  - depth: LONG
//	    channels: 1
//	    entries:
//	      - {scale: 100e-6, divisions: 52.5}
func LoadTimebaseTable(path string) (*TimebaseTable, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "loading timebase table %s", path)
	}
	t := &TimebaseTable{}
	if err := k.UnmarshalWithConf("", t, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrapf(err, "decoding timebase table %s", path)
	}
	if t.Normal <= 0 {
		return nil, errors.Errorf("timebase table %s: normal divisions must be positive", path)
	}
	for _, g := range t.Raw {
		if _, err := ParseMemDepth(string(g.Depth)); err != nil {
			return nil, errors.Wrapf(err, "timebase table %s", path)
		}
	}
	return t, nil
}
