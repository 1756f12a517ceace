/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Paper sizes: parsing, comparison and classification
 */

package ippclient

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PaperSize represents paper size, in IPP units (1/100 mm)
type PaperSize struct {
	Width, Height int // Paper width and height
}

// Standard paper sizes
//
//	               US name      US inches   US mm           ISO mm
//	"legal-A4"     A, Legal     8.5 x 14    215.9 x 355.6   A4: 210 x 297
//	"tabloid-A3"   B, Tabloid   11 x 17     279.4 x 431.8   A3: 297 x 420
//	"isoC-A2"      C            17 × 22     431.8 × 558.8   A2: 420 x 594
var (
	PaperLegal   = PaperSize{21590, 35560}
	PaperA4      = PaperSize{21000, 29700}
	PaperTabloid = PaperSize{27940, 43180}
	PaperA3      = PaperSize{29700, 42000}
	PaperC       = PaperSize{43180, 55880}
	PaperA2      = PaperSize{42000, 59400}
)

// paperSizeTolerance is the maximum difference, in 1/100 mm, between
// two dimensions still considered equal. Printers often report
// sizes, converted from inches with rounding
const paperSizeTolerance = 50

// paperNames maps well-known paper names to PWG self-describing
// media names. Lookup is performed after normalization, see
// paperNameNormalize
var paperNames = map[string]string{
	"iso_a2":           "iso_a2_420x594mm",
	"iso_a3":           "iso_a3_297x420mm",
	"iso_a4":           "iso_a4_210x297mm",
	"iso_a5":           "iso_a5_148x210mm",
	"iso_a6":           "iso_a6_105x148mm",
	"iso_b5":           "iso_b5_176x250mm",
	"iso_dl":           "iso_dl_110x220mm",
	"jis_b5":           "jis_b5_182x257mm",
	"na_letter":        "na_letter_8.5x11in",
	"na_legal":         "na_legal_8.5x14in",
	"na_ledger":        "na_ledger_11x17in",
	"na_tabloid":       "na_ledger_11x17in",
	"na_executive":     "na_executive_7.25x10.5in",
	"na_index_3x5":     "na_index-3x5_3x5in",
	"na_index_4x6":     "na_index-4x6_4x6in",
	"na_5x7":           "na_5x7_5x7in",
	"na_govt_letter":   "na_govt-letter_8x10in",
	"na_number_10":     "na_number-10_4.125x9.5in",
	"oe_photo_l":       "oe_photo-l_3.5x5in",
	"om_small_photo":   "om_small-photo_100x150mm",
	"na_c":             "na_c_17x22in",
	"na_invoice":       "na_invoice_5.5x8.5in",
	"na_foolscap":      "na_foolscap_8.5x13in",
	"na_index_4x6_ext": "na_index-4x6-ext_6x8in",
}

// paperNameNormalize normalizes paper name for lookup in paperNames:
// lower case, '-' replaced with '_'
func paperNameNormalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// ParsePaperSize parses paper size. The following forms are accepted:
//
//	iso_a4_210x297mm      PWG self-describing media name
//	ISO_A4, iso-a4, a4    Well-known paper name, with or without prefix
//	NA_INDEX_4X6, 4x6     ...
//	210x297mm, 4x6in      Explicit dimensions
func ParsePaperSize(s string) (PaperSize, error) {
	// Well-known name?
	if pwg := paperLookup(s); pwg != "" {
		return ParsePWGMediaName(pwg)
	}

	// Explicit dimensions?
	if p, err := parsePaperDimensions(paperNameNormalize(s)); err == nil {
		return p, nil
	}

	// PWG name?
	p, err := ParsePWGMediaName(s)
	if err != nil {
		return PaperSize{}, fmt.Errorf("%q: unknown paper size", s)
	}

	return p, nil
}

// PaperMediaKeyword converts paper size, in any form, accepted by
// ParsePaperSize, into the PWG media keyword, suitable for the
// "media" job template attribute. Explicit dimensions are
// converted into the custom size name
func PaperMediaKeyword(s string) (string, error) {
	if pwg := paperLookup(s); pwg != "" {
		return pwg, nil
	}

	if p, err := parsePaperDimensions(paperNameNormalize(s)); err == nil {
		return "custom_" + p.String() + "_" + p.String(), nil
	}

	if _, err := ParsePWGMediaName(s); err != nil {
		return "", fmt.Errorf("%q: unknown paper size", s)
	}

	return s, nil
}

// paperLookup looks up well-known paper name, with or without
// prefix, and returns PWG media name or ""
func paperLookup(s string) string {
	name := paperNameNormalize(s)

	if pwg, ok := paperNames[name]; ok {
		return pwg
	}

	for _, prefix := range []string{"iso_", "na_", "jis_", "oe_", "om_", "na_index_"} {
		if pwg, ok := paperNames[prefix+name]; ok {
			return pwg
		}
	}

	return ""
}

// ParsePWGMediaName extracts paper size from the PWG 5101.1
// self-describing media name, i.e. "iso_a4_210x297mm" or
// "na_index-4x6_4x6in"
func ParsePWGMediaName(name string) (PaperSize, error) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return PaperSize{}, fmt.Errorf("%q: not a PWG media name", name)
	}

	p, err := parsePaperDimensions(name[i+1:])
	if err != nil {
		return PaperSize{}, fmt.Errorf("%q: %s", name, err)
	}

	return p, nil
}

// parsePaperDimensions parses "WxHmm" or "WxHin"
func parsePaperDimensions(s string) (PaperSize, error) {
	var scale float64

	switch {
	case strings.HasSuffix(s, "mm"):
		scale = 100
	case strings.HasSuffix(s, "in"):
		scale = 2540
	default:
		return PaperSize{}, fmt.Errorf("%q: missed units", s)
	}

	dims := strings.Split(s[:len(s)-2], "x")
	if len(dims) != 2 {
		return PaperSize{}, fmt.Errorf("%q: invalid dimensions", s)
	}

	w, err := strconv.ParseFloat(dims[0], 64)
	if err == nil && w <= 0 {
		err = fmt.Errorf("%q: invalid width", s)
	}
	if err != nil {
		return PaperSize{}, err
	}

	h, err := strconv.ParseFloat(dims[1], 64)
	if err == nil && h <= 0 {
		err = fmt.Errorf("%q: invalid height", s)
	}
	if err != nil {
		return PaperSize{}, err
	}

	return PaperSize{int(math.Round(w * scale)), int(math.Round(h * scale))}, nil
}

// String returns paper size as string, in millimeters, i.e. "210x297mm"
func (p PaperSize) String() string {
	return fmt.Sprintf("%sx%smm", paperMM(p.Width), paperMM(p.Height))
}

// paperMM formats dimension in 1/100 mm as millimeters
func paperMM(v int) string {
	return strconv.FormatFloat(float64(v)/100, 'f', -1, 64)
}

// Matches tells if p and p2 are the same paper size,
// within the rounding tolerance
func (p PaperSize) Matches(p2 PaperSize) bool {
	dw := p.Width - p2.Width
	dh := p.Height - p2.Height
	return -paperSizeTolerance <= dw && dw <= paperSizeTolerance &&
		-paperSizeTolerance <= dh && dh <= paperSizeTolerance
}

// Less checks that p is less that p2, which means:
//   - Either p.Width or p.Height is less that p2.Width or p2.Heigh
//   - Neither of p.Width or p.Height is greater that p2.Width or p2.Heigh
func (p PaperSize) Less(p2 PaperSize) bool {
	return (p.Width < p2.Width && p.Height <= p2.Height) ||
		(p.Height < p2.Height && p.Width <= p2.Width)
}

// Classify paper size according to Apple Bonjour rules
// Returns:
//
//	">isoC-A2" for paper larger that C or A2
//	"isoC-A2" for C or A2 paper
//	"tabloid-A3" for Tabloid or A3 paper
//	"legal-A4" for Legal or A4 paper
//	"<legal-A4" for paper smaller that Legal or A4
func (p PaperSize) Classify() string {
	switch {
	case PaperC.Less(p) || PaperA2.Less(p):
		return ">isoC-A2"

	case !p.Less(PaperC) || !p.Less(PaperA2):
		return "isoC-A2"

	case !p.Less(PaperTabloid) || !p.Less(PaperA3):
		return "tabloid-A3"

	case !p.Less(PaperLegal) || !p.Less(PaperA4):
		return "legal-A4"

	default:
		return "<legal-A4"
	}
}
