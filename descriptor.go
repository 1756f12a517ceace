/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Printer descriptor: immutable snapshot of printer attributes
 */

package ippclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/google/uuid"
)

// PrinterState represents printer-state attribute value
type PrinterState int

// Printer states, RFC 8011, 5.4.11
const (
	PrinterUnknown    PrinterState = 0
	PrinterIdle       PrinterState = 3
	PrinterProcessing PrinterState = 4
	PrinterStopped    PrinterState = 5
)

// String returns PrinterState as string
func (s PrinterState) String() string {
	switch s {
	case PrinterIdle:
		return "idle"
	case PrinterProcessing:
		return "processing"
	case PrinterStopped:
		return "stopped"
	case PrinterUnknown:
		return "unknown"
	}

	return fmt.Sprintf("printer-state(%d)", int(s))
}

// MarshalYAML implements yaml.Marshaler interface
func (s PrinterState) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// PrinterDescriptor is the immutable snapshot of printer attributes,
// obtained by a single Get-Printer-Attributes round trip. A new
// fetch creates a new PrinterDescriptor and never modifies the
// existing one
type PrinterDescriptor struct {
	URI       string               // Printer URI
	FetchedAt time.Time            // When attributes were fetched
	Attrs     AttributeGroup       // Printer attributes, in wire order
	byName    map[string]Attribute // Attributes by name
}

// NewPrinterDescriptor creates a new PrinterDescriptor
func NewPrinterDescriptor(uri string, attrs AttributeGroup,
	fetchedAt time.Time) *PrinterDescriptor {

	desc := &PrinterDescriptor{
		URI:       uri,
		FetchedAt: fetchedAt,
		Attrs:     attrs,
		byName:    make(map[string]Attribute, len(attrs.Attrs)),
	}

	// Note, we move from the end of list to the beginning, so
	// in a case of duplicated attributes, first occurrence wins
	for i := len(attrs.Attrs) - 1; i >= 0; i-- {
		attr := attrs.Attrs[i]
		desc.byName[attr.Name] = attr
	}

	return desc
}

// Get returns attribute by name
func (desc *PrinterDescriptor) Get(name string) (Attribute, bool) {
	attr, ok := desc.byName[name]
	return attr, ok
}

// State returns printer-state
func (desc *PrinterDescriptor) State() PrinterState {
	if v := desc.getValues(ValueInteger, "printer-state"); v != nil {
		return PrinterState(v[0].(Integer))
	}
	return PrinterUnknown
}

// StateReasons returns printer-state-reasons
func (desc *PrinterDescriptor) StateReasons() []string {
	return desc.getStrings("printer-state-reasons")
}

// StateMessage returns printer-state-message
func (desc *PrinterDescriptor) StateMessage() string {
	return desc.strSingle("printer-state-message")
}

// Name returns human-readable printer name, with fallback
// from printer-info to printer-name and printer-make-and-model
func (desc *PrinterDescriptor) Name() string {
	return desc.strSingle("printer-info", "printer-name",
		"printer-make-and-model")
}

// MakeAndModel returns printer-make-and-model
func (desc *PrinterDescriptor) MakeAndModel() string {
	return desc.strSingle("printer-make-and-model")
}

// Location returns printer-location
func (desc *PrinterDescriptor) Location() string {
	return desc.strSingle("printer-location")
}

// UUID returns parsed printer-uuid
func (desc *PrinterDescriptor) UUID() (uuid.UUID, error) {
	s := desc.strSingle("printer-uuid")
	if s == "" {
		return uuid.Nil, newError(KindNotFound, "", desc.URI,
			fmt.Errorf("printer-uuid: missed"))
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, newError(KindDecode, "", desc.URI,
			fmt.Errorf("printer-uuid: %s", err))
	}

	return u, nil
}

// DocumentFormats returns document-format-supported
func (desc *PrinterDescriptor) DocumentFormats() []string {
	return desc.getStrings("document-format-supported")
}

// SupportsFormat tells if document format is supported by
// the printer. application/octet-stream is always supported,
// as it means "printer decides"
func (desc *PrinterDescriptor) SupportsFormat(format string) bool {
	format = strings.ToLower(format)
	if format == DocumentFormatAuto {
		return true
	}

	for _, f := range desc.DocumentFormats() {
		if strings.ToLower(f) == format {
			return true
		}
	}

	return false
}

// Supports tells if operation is listed in operations-supported
func (desc *PrinterDescriptor) Supports(op goipp.Op) bool {
	for _, v := range desc.getValues(ValueInteger, "operations-supported") {
		if i, ok := v.(Integer); ok && goipp.Op(i) == op {
			return true
		}
	}
	return false
}

// Color returns "T" if printer supports color printing,
// "F" if not and "" if it can't tell
func (desc *PrinterDescriptor) Color() string {
	vals := desc.getValues(ValueBoolean, "color-supported")
	if vals == nil {
		return ""
	}
	if vals[0].(Boolean) {
		return "T"
	}
	return "F"
}

// Duplex returns "T" if printer supports two-sided
// printing, "F" if not and "" if it cant' tell
func (desc *PrinterDescriptor) Duplex() string {
	one, two := false, false
	for _, s := range desc.getStrings("sides-supported") {
		switch {
		case strings.HasPrefix(s, "one"):
			one = true
		case strings.HasPrefix(s, "two"):
			two = true
		}
	}

	if two {
		return "T"
	}

	if one {
		return "F"
	}

	return ""
}

// PrinterInfo is the summary of printer attributes, suitable
// for presentation
type PrinterInfo struct {
	URI          string       `yaml:"uri"`
	Name         string       `yaml:"name,omitempty"`
	MakeAndModel string       `yaml:"make-and-model,omitempty"`
	Location     string       `yaml:"location,omitempty"`
	UUID         string       `yaml:"uuid,omitempty"`
	State        PrinterState `yaml:"state"`
	StateReasons []string     `yaml:"state-reasons,omitempty"`
	StateMessage string       `yaml:"state-message,omitempty"`
	Color        string       `yaml:"color,omitempty"`
	Duplex       string       `yaml:"duplex,omitempty"`
	Formats      []string     `yaml:"formats,omitempty"`
	Markers      []Marker     `yaml:"markers,omitempty"`
	FetchedAt    time.Time    `yaml:"fetched-at"`
}

// Info returns printer summary
func (desc *PrinterDescriptor) Info() PrinterInfo {
	info := PrinterInfo{
		URI:          desc.URI,
		Name:         desc.Name(),
		MakeAndModel: desc.MakeAndModel(),
		Location:     desc.Location(),
		State:        desc.State(),
		StateReasons: desc.StateReasons(),
		StateMessage: desc.StateMessage(),
		Color:        desc.Color(),
		Duplex:       desc.Duplex(),
		Formats:      desc.DocumentFormats(),
		Markers:      Markers(desc),
		FetchedAt:    desc.FetchedAt,
	}

	if u, err := desc.UUID(); err == nil {
		info.UUID = u.String()
	}

	return info
}

// Get a single-string attribute
func (desc *PrinterDescriptor) strSingle(names ...string) string {
	strs := desc.getStrings(names...)
	if strs == nil {
		return ""
	}

	return strs[0]
}

// Get attribute's []string value by attribute name
// Multiple names may be specified, for fallback purposes.
// TextWithLang values are accepted as well
func (desc *PrinterDescriptor) getStrings(names ...string) []string {
	for _, name := range names {
		attr, ok := desc.byName[name]
		if !ok || len(attr.Values) == 0 {
			continue
		}

		var strs []string
		for _, v := range attr.Values {
			switch v := v.Value.(type) {
			case String:
				strs = append(strs, string(v))
			case TextWithLang:
				strs = append(strs, v.Text)
			}
		}

		if strs != nil {
			return strs
		}
	}

	return nil
}

// Get attribute's values by attribute name
// Multiple names may be specified, for fallback purposes
// Value kind is checked and enforced
func (desc *PrinterDescriptor) getValues(kind ValueKind, names ...string) []Value {
	for _, name := range names {
		attr, ok := desc.byName[name]
		if ok && len(attr.Values) > 0 && attr.Values[0].Value.Kind() == kind {
			vals := make([]Value, len(attr.Values))
			for i := range attr.Values {
				vals[i] = attr.Values[i].Value
			}
			return vals
		}
	}

	return nil
}
