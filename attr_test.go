/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Attributes and codec tests
 */

package ippclient

import (
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGroups returns attribute groups, used by codec tests
func testGroups() []AttributeGroup {
	op := AttributeGroup{Tag: GroupOperation}
	op.Add(MakeAttr("attributes-charset", TagCharset, String("utf-8")))
	op.Add(MakeAttr("attributes-natural-language", TagLanguage, String("en-US")))
	op.Add(MakeAttr("printer-uri", TagURI, String("ipp://localhost/ipp/print")))

	prn := AttributeGroup{Tag: GroupPrinter}
	prn.Add(MakeAttr("printer-state", TagEnum, Integer(3)))
	prn.Add(MakeAttr("color-supported", TagBoolean, Boolean(true)))
	prn.Add(MakeAttr("document-format-supported", TagMimeType,
		String("application/pdf"), String("image/jpeg")))
	prn.Add(MakeAttr("printer-current-time", TagDateTime,
		DateTime{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}))
	prn.Add(MakeAttr("printer-resolution-default", TagResolution,
		Resolution{X: 600, Y: 600, Units: 3}))
	prn.Add(MakeAttr("copies-supported", TagRange, Range{1, 99}))
	prn.Add(MakeAttr("printer-info", TagTextLang,
		TextWithLang{Text: "Drucker", Lang: "de"}))
	prn.Add(MakeAttr("printer-alert", TagOctetString, Octets("code=other")))
	prn.Add(MakeAttr("printer-geo-location", TagUnknown, Void{}))
	prn.Add(MakeCollection("media-col-default",
		MakeCollection("media-size",
			MakeAttr("x-dimension", TagInteger, Integer(21000)),
			MakeAttr("y-dimension", TagInteger, Integer(29700))),
		MakeAttr("media-source", TagKeyword, String("main"))))

	job := AttributeGroup{Tag: GroupJob}
	job.Add(MakeAttr("job-id", TagInteger, Integer(1)))

	return []AttributeGroup{op, prn, job}
}

func TestEncodeDecodeGroups(t *testing.T) {
	groups := testGroups()

	data, err := EncodeGroups(groups)
	require.NoError(t, err)

	decoded, err := DecodeGroups(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(groups))

	for i := range groups {
		if !groups[i].Equal(decoded[i]) {
			t.Errorf("group %s mismatch:\nexpected: %v\npresent:  %v",
				groups[i].Tag, groups[i], decoded[i])
		}
	}
}

func TestEncodeDecodeMessage(t *testing.T) {
	msg := &Message{
		Version:   goipp.DefaultVersion,
		Code:      goipp.Code(goipp.StatusOk),
		RequestID: 42,
		Groups:    testGroups(),
	}

	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	// Data that follows the message is returned as is
	data = append(data, "document"...)

	decoded, err := DecodeMessage(data, false)
	require.NoError(t, err)

	assert.Equal(t, msg.Version, decoded.Version)
	assert.Equal(t, goipp.StatusOk, decoded.Status())
	assert.Equal(t, uint32(42), decoded.RequestID)
	assert.Equal(t, "document", string(decoded.Data))

	grp, ok := decoded.Group(GroupPrinter)
	require.True(t, ok)
	assert.Equal(t, []string{"application/pdf", "image/jpeg"},
		grp.Strings("document-format-supported"))

	state, ok := grp.Int("printer-state")
	assert.True(t, ok)
	assert.Equal(t, 3, state)

	color, ok := grp.Bool("color-supported")
	assert.True(t, ok)
	assert.True(t, color)

	cols := grp.Collections("media-col-default")
	require.Len(t, cols, 1)
	assert.Equal(t, "main", cols[0].Group().StringValue("media-source"))

	size, ok := cols[0].Member("media-size")
	require.True(t, ok)
	assert.Equal(t, "{x-dimension=21000 y-dimension=29700}", size.ValueString())

	_, ok = decoded.Group(GroupSubscription)
	assert.False(t, ok)
	assert.Len(t, decoded.GroupsOf(GroupJob), 1)
}

func TestEncodeErrors(t *testing.T) {
	type testData struct {
		name   string         // Test name
		groups AttributeGroup // Group to encode
	}

	tests := []testData{
		{"unknown group tag", AttributeGroup{Tag: 0x0f}},
		{"attribute without name", AttributeGroup{
			Tag:   GroupOperation,
			Attrs: []Attribute{{Values: []TaggedValue{{TagInteger, Integer(1)}}}},
		}},
		{"attribute without value", AttributeGroup{
			Tag:   GroupOperation,
			Attrs: []Attribute{{Name: "empty"}},
		}},
		{"tag mismatch", AttributeGroup{
			Tag: GroupOperation,
			Attrs: []Attribute{{Name: "mismatch",
				Values: []TaggedValue{{TagInteger, String("1")}}}},
		}},
	}

	for _, test := range tests {
		_, err := EncodeGroups([]AttributeGroup{test.groups})
		assert.ErrorIs(t, err, ErrDecode, test.name)
	}
}

func TestDecodeErrors(t *testing.T) {
	// Truncated message
	data, err := EncodeMessage(&Message{
		Version: goipp.DefaultVersion,
		Code:    goipp.Code(goipp.StatusOk),
		Groups:  testGroups(),
	})
	require.NoError(t, err)

	_, err = DecodeMessage(data[:len(data)/2], false)
	assert.ErrorIs(t, err, ErrDecode)

	// Unknown group tag
	msg := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, 1)
	msg.Groups = goipp.Groups{
		{Tag: goipp.TagFuture11Group, Attrs: goipp.Attributes{
			goipp.MakeAttribute("x", goipp.TagInteger, goipp.Integer(1)),
		}},
	}

	data, err = msg.EncodeBytes()
	require.NoError(t, err)

	_, err = DecodeMessage(data, false)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestMakeAttrPanics(t *testing.T) {
	assert.Panics(t, func() {
		MakeAttr("copies", TagInteger, String("1"))
	})

	assert.NotPanics(t, func() {
		MakeAttr("copies", TagInteger, Integer(1), Integer(2))
	})
}

func TestAttributeValueString(t *testing.T) {
	type testData struct {
		attr Attribute
		str  string
	}

	tests := []testData{
		{MakeAttr("a", TagInteger, Integer(5)), "5"},
		{MakeAttr("a", TagKeyword, String("x"), String("y")), "[x,y]"},
		{MakeAttr("a", TagRange, Range{1, 9}), "1-9"},
		{MakeAttr("a", TagBoolean, Boolean(false)), "false"},
		{MakeAttr("a", TagTextLang, TextWithLang{Text: "t", Lang: "en"}), "t [en]"},
		{MakeAttr("a", TagOctetString, Octets{0xde, 0xad}), "dead"},
		{MakeAttr("a", TagNoValue, Void{}), ""},
	}

	for _, test := range tests {
		assert.Equal(t, test.str, test.attr.ValueString())
	}
}

func TestAttributeEqual(t *testing.T) {
	a := MakeAttr("a", TagKeyword, String("x"), String("y"))

	assert.True(t, a.Equal(MakeAttr("a", TagKeyword, String("x"), String("y"))))
	assert.False(t, a.Equal(MakeAttr("b", TagKeyword, String("x"), String("y"))))
	assert.False(t, a.Equal(MakeAttr("a", TagKeyword, String("x"))))
	assert.False(t, a.Equal(MakeAttr("a", TagName, String("x"), String("y"))))
	assert.False(t, a.Equal(MakeAttr("a", TagInteger, Integer(1), Integer(2))))
}

func TestEncodeIntegerRange(t *testing.T) {
	type testData struct {
		name string // Test name
		attr Attribute
	}

	tests := []testData{
		{"integer", Attribute{Name: "job-id",
			Values: []TaggedValue{{TagInteger, Integer(1<<32 + 5)}}}},
		{"negative integer", Attribute{Name: "job-id",
			Values: []TaggedValue{{TagInteger, Integer(-1<<31 - 1)}}}},
		{"range", Attribute{Name: "copies-supported",
			Values: []TaggedValue{{TagRange, Range{1, 1 << 31}}}}},
		{"resolution", Attribute{Name: "printer-resolution-default",
			Values: []TaggedValue{{TagResolution,
				Resolution{X: 1 << 33, Y: 600, Units: UnitsDpi}}}}},
		{"collection member", MakeCollection("media-size",
			Attribute{Name: "x-dimension",
				Values: []TaggedValue{{TagInteger, Integer(1 << 40)}}})},
	}

	for _, test := range tests {
		grp := AttributeGroup{Tag: GroupOperation, Attrs: []Attribute{test.attr}}
		_, err := EncodeGroups([]AttributeGroup{grp})
		assert.ErrorIs(t, err, ErrDecode, test.name)
	}

	assert.Panics(t, func() {
		MakeAttr("job-id", TagInteger, Integer(1<<32 + 5))
	})

	// Boundaries survive the round trip
	grp := AttributeGroup{Tag: GroupOperation}
	grp.Add(MakeAttr("limits", TagInteger,
		Integer(-1<<31), Integer(1<<31-1)))

	data, err := EncodeGroups([]AttributeGroup{grp})
	require.NoError(t, err)

	decoded, err := DecodeGroups(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, grp.Equal(decoded[0]))
}

func TestEncodeDateTimePrecision(t *testing.T) {
	tm := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)

	grp := AttributeGroup{Tag: GroupPrinter}
	grp.Add(MakeAttr("printer-current-time", TagDateTime, DateTime{tm}))

	data, err := EncodeGroups([]AttributeGroup{grp})
	require.NoError(t, err)

	decoded, err := DecodeGroups(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, grp.Equal(decoded[0]))

	attr, ok := decoded[0].Get("printer-current-time")
	require.True(t, ok)

	present := attr.Values[0].Value.(DateTime).Time
	assert.True(t, present.Equal(tm.Truncate(DateTimePrecision)),
		"present: %s", present)
	assert.Equal(t, 100000000, present.Nanosecond())

	// Values, that differ only below wire precision, are equal
	assert.True(t, valueEqual(DateTime{tm}, DateTime{tm.Add(-23456789)}))
	assert.False(t, valueEqual(DateTime{tm}, DateTime{tm.Add(DateTimePrecision)}))
}
