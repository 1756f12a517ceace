/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Printer markers (toner, ink, etc)
 */

package ippclient

import (
	"fmt"
)

// Marker represents a single printer marker (toner, ink, waste
// container etc), as reported by the marker-* attributes family
type Marker struct {
	Name      string `yaml:"name"`
	Color     string `yaml:"color,omitempty"`
	Type      string `yaml:"type,omitempty"`
	Level     int    `yaml:"level"`      // Raw marker-levels value
	LowLevel  int    `yaml:"low-level"`  // -1 if unknown
	HighLevel int    `yaml:"high-level"` // -1 if unknown
}

// Special values of marker-levels, RFC 3805 prtMarkerSuppliesLevel
const (
	MarkerLevelUnavailable = -1 // Level unavailable
	MarkerLevelUnknown     = -2 // Level unknown
	MarkerLevelSomeLeft    = -3 // Some remains, exact level unknown
)

// LevelPercent returns marker level in percents. The second
// returned value is false, if level is not known
func (m Marker) LevelPercent() (int, bool) {
	if m.Level < 0 || m.Level > 100 {
		return 0, false
	}
	return m.Level, true
}

// String returns Marker as string, i.e. "Black Toner: 85%"
func (m Marker) String() string {
	if pct, ok := m.LevelPercent(); ok {
		return fmt.Sprintf("%s: %d%%", m.Name, pct)
	}
	return fmt.Sprintf("%s: unknown", m.Name)
}

// Markers extracts markers from the printer descriptor. This
// is the pure function; it never performs network I/O.
//
// The count of markers is the longest of marker-names and
// marker-levels. Unnamed markers are named "marker-N", with
// N counted from 1. Missed levels and other values of the
// family are reported as unknown
func Markers(desc *PrinterDescriptor) []Marker {
	names := desc.getStrings("marker-names")
	levels := markerInts(desc, "marker-levels")

	cnt := len(names)
	if len(levels) > cnt {
		cnt = len(levels)
	}

	if cnt == 0 {
		return nil
	}

	colors := desc.getStrings("marker-colors")
	types := desc.getStrings("marker-types")
	low := markerInts(desc, "marker-low-levels")
	high := markerInts(desc, "marker-high-levels")

	markers := make([]Marker, cnt)
	for i := range markers {
		name := markerString(names, i)
		if name == "" {
			name = fmt.Sprintf("marker-%d", i+1)
		}

		markers[i] = Marker{
			Name:      name,
			Color:     markerString(colors, i),
			Type:      markerString(types, i),
			Level:     markerInt(levels, i, MarkerLevelUnknown),
			LowLevel:  markerInt(low, i, -1),
			HighLevel: markerInt(high, i, -1),
		}
	}

	return markers
}

// markerInts returns integer values of marker-* attribute,
// with values of other kinds (i.e., out-of-band unknown)
// replaced with MarkerLevelUnknown
func markerInts(desc *PrinterDescriptor, name string) []int {
	attr, ok := desc.Get(name)
	if !ok {
		return nil
	}

	ints := make([]int, len(attr.Values))
	for i, v := range attr.Values {
		if n, ok := v.Value.(Integer); ok {
			ints[i] = int(n)
		} else {
			ints[i] = MarkerLevelUnknown
		}
	}

	return ints
}

func markerString(strs []string, i int) string {
	if i < len(strs) {
		return strs[i]
	}
	return ""
}

func markerInt(ints []int, i, dflt int) int {
	if i < len(ints) {
		return ints[i]
	}
	return dflt
}
