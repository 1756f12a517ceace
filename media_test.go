/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Media capability queries tests
 */

package ippclient

import (
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDescriptor makes PrinterDescriptor from goipp attributes
func fakeDescriptor(t *testing.T, attrs goipp.Attributes) *PrinterDescriptor {
	grp := AttributeGroup{Tag: GroupPrinter}
	for _, attr := range attrs {
		a, err := fromIppAttr(attr)
		require.NoError(t, err)
		grp.Add(a)
	}

	return NewPrinterDescriptor("ipp://localhost/ipp/print", grp,
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
}

func TestMediaQueries(t *testing.T) {
	desc := fakeDescriptor(t, fakePrinterAttrs())

	a4 := PaperA4
	photo, err := ParsePaperSize("4x6")
	require.NoError(t, err)
	letter, err := ParsePaperSize("letter")
	require.NoError(t, err)
	a5, err := ParsePaperSize("A5")
	require.NoError(t, err)

	// FindMediaBySize
	m, err := FindMediaBySize(desc, a4)
	require.NoError(t, err)
	assert.Equal(t, "iso_a4_210x297mm", m.Name)
	assert.Equal(t, PaperA4, m.Size)

	m, err = FindMediaBySize(desc, photo)
	require.NoError(t, err)
	assert.Equal(t, "na_index-4x6_4x6in", m.Name)

	_, err = FindMediaBySize(desc, letter)
	assert.ErrorIs(t, err, ErrUnsupported)

	// IsMediaSizeSupported
	assert.True(t, IsMediaSizeSupported(desc, a4))
	assert.True(t, IsMediaSizeSupported(desc, photo))
	assert.False(t, IsMediaSizeSupported(desc, letter))

	// IsMediaSizeReady
	assert.True(t, IsMediaSizeReady(desc, photo))
	assert.True(t, IsMediaSizeReady(desc, a4))
	assert.False(t, IsMediaSizeReady(desc, a5))

	// SourcesOfMediaSizeReady
	assert.Equal(t, []string{"by-pass-tray", "photo"},
		SourcesOfMediaSizeReady(desc, photo))
	assert.Equal(t, []string{"main"}, SourcesOfMediaSizeReady(desc, a4))

	sources := SourcesOfMediaSizeReady(desc, letter)
	assert.NotNil(t, sources)
	assert.Empty(t, sources)
}

func TestMediaKeywordsFallback(t *testing.T) {
	var attrs goipp.Attributes
	attrs.Add(fakeStrings("media-supported", goipp.TagKeyword,
		"na_letter_8.5x11in", "iso_a4_210x297mm", "roll_max_36x1000in", "bogus"))
	attrs.Add(fakeStrings("media-ready", goipp.TagKeyword,
		"na_letter_8.5x11in"))

	desc := fakeDescriptor(t, attrs)

	db := MediaDatabase(desc)
	require.Len(t, db, 3)
	assert.Equal(t, "na_letter_8.5x11in", db[0].Name)
	assert.Equal(t, PaperSize{21590, 27940}, db[0].Size)

	letter, err := ParsePaperSize("na_letter")
	require.NoError(t, err)

	assert.True(t, IsMediaSizeSupported(desc, letter))
	assert.True(t, IsMediaSizeReady(desc, letter))
	assert.False(t, IsMediaSizeReady(desc, PaperA4))

	// Keywords carry no media-source
	assert.Empty(t, SourcesOfMediaSizeReady(desc, letter))
}

func TestMediaRoll(t *testing.T) {
	size := goipp.Collection{
		goipp.MakeAttribute("x-dimension", goipp.TagInteger, goipp.Integer(21000)),
		goipp.MakeAttribute("y-dimension", goipp.TagRange,
			goipp.Range{Lower: 10000, Upper: 100000}),
	}

	col := goipp.Collection{
		goipp.MakeAttribute("media-key", goipp.TagKeyword, goipp.String("roll_a4")),
		goipp.MakeAttribute("media-size", goipp.TagBeginCollection, size),
		goipp.MakeAttribute("media-source", goipp.TagKeyword, goipp.String("roll-1")),
		goipp.MakeAttribute("media-type", goipp.TagKeyword, goipp.String("stationery")),
	}

	var attrs goipp.Attributes
	attrs.Add(goipp.MakeAttribute("media-col-ready", goipp.TagBeginCollection, col))
	desc := fakeDescriptor(t, attrs)

	ready := MediaReady(desc)
	require.Len(t, ready, 1)
	assert.Equal(t, "roll_a4", ready[0].Name)
	assert.Equal(t, 90000, ready[0].MaxHeight)
	assert.Equal(t, "stationery", ready[0].Type)

	assert.True(t, IsMediaSizeReady(desc, PaperA4))
	assert.True(t, IsMediaSizeReady(desc, PaperSize{21000, 100000}))
	assert.False(t, IsMediaSizeReady(desc, PaperSize{21000, 120000}))
	assert.False(t, IsMediaSizeReady(desc, PaperLegal))
	assert.Equal(t, []string{"roll-1"}, SourcesOfMediaSizeReady(desc, PaperA4))

	assert.Equal(t, "roll_a4 (210x100mm) source=roll-1 type=stationery",
		ready[0].String())
}

func TestMediaInvalidCollection(t *testing.T) {
	// media-size without y-dimension and unparsable name
	size := goipp.Collection{
		goipp.MakeAttribute("x-dimension", goipp.TagInteger, goipp.Integer(21000)),
	}

	bad := goipp.Collection{
		goipp.MakeAttribute("media-size", goipp.TagBeginCollection, size),
	}

	// media-size missed, but size is encoded in the name
	named := goipp.Collection{
		goipp.MakeAttribute("media-size-name", goipp.TagKeyword,
			goipp.String("iso_a5_148x210mm")),
	}

	db := goipp.Attribute{Name: "media-col-database"}
	db.Values.Add(goipp.TagBeginCollection, bad)
	db.Values.Add(goipp.TagBeginCollection, named)

	var attrs goipp.Attributes
	attrs.Add(db)
	desc := fakeDescriptor(t, attrs)

	media := MediaDatabase(desc)
	require.Len(t, media, 1)
	assert.Equal(t, "iso_a5_148x210mm", media[0].Name)
	assert.Equal(t, PaperSize{14800, 21000}, media[0].Size)
}
