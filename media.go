/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Media capability queries
 */

package ippclient

import (
	"fmt"
	"sort"
)

// Media represents a single media entry, taken either from
// media-col-database/media-col-ready collections or from
// media-supported/media-ready keywords
type Media struct {
	Name      string    `yaml:"name,omitempty"`   // media-size-name or media-key
	Size      PaperSize `yaml:"size"`             // Nominal size
	MaxHeight int       `yaml:"max-height"`       // For roll media, 0 otherwise
	Source    string    `yaml:"source,omitempty"` // media-source
	Type      string    `yaml:"type,omitempty"`   // media-type
}

// String returns Media as string
func (m Media) String() string {
	s := m.Size.String()
	if m.Name != "" {
		s = m.Name + " (" + s + ")"
	}
	if m.Source != "" {
		s += " source=" + m.Source
	}
	if m.Type != "" {
		s += " type=" + m.Type
	}
	return s
}

// Matches tells if media accepts the paper size
func (m Media) Matches(size PaperSize) bool {
	if m.MaxHeight == 0 {
		return m.Size.Matches(size)
	}

	// Roll media: width must match, height is within the range
	return m.Size.Matches(PaperSize{size.Width, m.Size.Height}) &&
		size.Height >= m.Size.Height-paperSizeTolerance &&
		size.Height <= m.Size.Height+m.MaxHeight+paperSizeTolerance
}

// MediaDatabase returns all media, supported by the printer.
//
// media-col-database is used when available, with
// fallback to media-supported
func MediaDatabase(desc *PrinterDescriptor) []Media {
	return mediaList(desc, "media-col-database", "media-supported")
}

// MediaReady returns media, currently loaded into the printer.
//
// media-col-ready is used when available, with
// fallback to media-ready
func MediaReady(desc *PrinterDescriptor) []Media {
	return mediaList(desc, "media-col-ready", "media-ready")
}

// FindMediaBySize returns the first entry of the printer media
// database that matches the size. It fails with KindUnsupported,
// if there is no such media
func FindMediaBySize(desc *PrinterDescriptor, size PaperSize) (Media, error) {
	for _, m := range MediaDatabase(desc) {
		if m.Matches(size) {
			return m, nil
		}
	}

	return Media{}, errorf(KindUnsupported, "find-media", desc.URI,
		"no media of size %s", size)
}

// IsMediaSizeSupported tells if printer supports the media size
func IsMediaSizeSupported(desc *PrinterDescriptor, size PaperSize) bool {
	_, err := FindMediaBySize(desc, size)
	return err == nil
}

// IsMediaSizeReady tells if media of the given size is loaded
// into the printer
func IsMediaSizeReady(desc *PrinterDescriptor, size PaperSize) bool {
	for _, m := range MediaReady(desc) {
		if m.Matches(size) {
			return true
		}
	}

	return false
}

// SourcesOfMediaSizeReady returns media sources (trays) where
// media of the given size is loaded. Returned list is sorted
// and contains no duplicates. Media without media-source is
// not reported
func SourcesOfMediaSizeReady(desc *PrinterDescriptor, size PaperSize) []string {
	seen := make(map[string]struct{})
	sources := []string{}

	for _, m := range MediaReady(desc) {
		if m.Source == "" || !m.Matches(size) {
			continue
		}

		if _, found := seen[m.Source]; !found {
			seen[m.Source] = struct{}{}
			sources = append(sources, m.Source)
		}
	}

	sort.Strings(sources)
	return sources
}

// mediaList returns media from the collection attribute, with
// fallback to the keyword attribute
func mediaList(desc *PrinterDescriptor, colName, kwName string) []Media {
	var list []Media

	if attr, ok := desc.Get(colName); ok {
		for _, v := range attr.Values {
			col, ok := v.Value.(Collection)
			if !ok {
				continue
			}

			if m, err := mediaFromCollection(col); err == nil {
				list = append(list, m)
			}
		}
	}

	if list != nil {
		return list
	}

	for _, name := range desc.getStrings(kwName) {
		size, err := ParsePWGMediaName(name)
		if err == nil {
			list = append(list, Media{Name: name, Size: size})
		}
	}

	return list
}

// mediaFromCollection decodes media-col collection
func mediaFromCollection(col Collection) (Media, error) {
	grp := col.Group()

	m := Media{
		Name:   grp.StringValue("media-size-name"),
		Source: grp.StringValue("media-source"),
		Type:   grp.StringValue("media-type"),
	}

	if m.Name == "" {
		m.Name = grp.StringValue("media-key")
	}

	sizes := grp.Collections("media-size")
	if len(sizes) == 0 {
		// Some printers report size only by name
		size, err := ParsePWGMediaName(m.Name)
		if err != nil {
			return Media{}, fmt.Errorf("media-size: missed")
		}
		m.Size = size
		return m, nil
	}

	var err error
	sz := sizes[0]

	m.Size.Width, _, err = mediaDimension(sz, "x-dimension")
	if err == nil {
		var max int
		m.Size.Height, max, err = mediaDimension(sz, "y-dimension")
		if max > m.Size.Height {
			m.MaxHeight = max - m.Size.Height
		}
	}

	if err != nil {
		return Media{}, err
	}

	return m, nil
}

// mediaDimension decodes x-dimension or y-dimension member of
// the media-size collection. The dimension is either integer
// or a range (for roll media). For integer, min == max
func mediaDimension(sz Collection, name string) (min, max int, err error) {
	attr, ok := sz.Member(name)
	if !ok || len(attr.Values) == 0 {
		return 0, 0, fmt.Errorf("media-size: %s missed", name)
	}

	switch v := attr.Values[0].Value.(type) {
	case Integer:
		return int(v), int(v), nil
	case Range:
		return v.Lower, v.Upper, nil
	}

	return 0, 0, fmt.Errorf("media-size: %s: invalid value %s",
		name, attr.Values[0].Value)
}
