/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * IPP attribute model
 */

package ippclient

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
)

// ValueTag is the wire type discriminator of an attribute value
type ValueTag int

// Value tags, as defined by RFC 8010
const (
	TagUnsupportedValue ValueTag = 0x10 // unsupported (out-of-band)
	TagDefault          ValueTag = 0x11 // default (out-of-band)
	TagUnknown          ValueTag = 0x12 // unknown (out-of-band)
	TagNoValue          ValueTag = 0x13 // no-value (out-of-band)
	TagNotSettable      ValueTag = 0x15 // not-settable (out-of-band)
	TagDeleteAttr       ValueTag = 0x16 // delete-attribute (out-of-band)
	TagAdminDefine      ValueTag = 0x17 // admin-define (out-of-band)
	TagInteger          ValueTag = 0x21 // integer
	TagBoolean          ValueTag = 0x22 // boolean
	TagEnum             ValueTag = 0x23 // enum
	TagOctetString      ValueTag = 0x30 // octetString
	TagDateTime         ValueTag = 0x31 // dateTime
	TagResolution       ValueTag = 0x32 // resolution
	TagRange            ValueTag = 0x33 // rangeOfInteger
	TagCollection       ValueTag = 0x34 // begCollection
	TagTextLang         ValueTag = 0x35 // textWithLanguage
	TagNameLang         ValueTag = 0x36 // nameWithLanguage
	TagText             ValueTag = 0x41 // textWithoutLanguage
	TagName             ValueTag = 0x42 // nameWithoutLanguage
	TagReservedString   ValueTag = 0x43 // reserved for future string type
	TagKeyword          ValueTag = 0x44 // keyword
	TagURI              ValueTag = 0x45 // uri
	TagURIScheme        ValueTag = 0x46 // uriScheme
	TagCharset          ValueTag = 0x47 // charset
	TagLanguage         ValueTag = 0x48 // naturalLanguage
	TagMimeType         ValueTag = 0x49 // mimeMediaType
)

// ValueKind is the representation a ValueTag requires
type ValueKind int

// Value kinds
const (
	ValueOpaque ValueKind = iota // Octets: unknown tags and octetString
	ValueVoid                    // out-of-band, no value
	ValueInteger
	ValueBoolean
	ValueString
	ValueDateTime
	ValueResolution
	ValueRange
	ValueTextWithLang
	ValueCollection
)

// Kind returns the value representation, required by the tag.
// Tags not known to this package are reported as ValueOpaque,
// and their values are preserved as Octets
func (tag ValueTag) Kind() ValueKind {
	switch tag {
	case TagUnsupportedValue, TagDefault, TagUnknown, TagNoValue,
		TagNotSettable, TagDeleteAttr, TagAdminDefine:
		return ValueVoid
	case TagInteger, TagEnum:
		return ValueInteger
	case TagBoolean:
		return ValueBoolean
	case TagText, TagName, TagReservedString, TagKeyword, TagURI,
		TagURIScheme, TagCharset, TagLanguage, TagMimeType:
		return ValueString
	case TagDateTime:
		return ValueDateTime
	case TagResolution:
		return ValueResolution
	case TagRange:
		return ValueRange
	case TagTextLang, TagNameLang:
		return ValueTextWithLang
	case TagCollection:
		return ValueCollection
	}

	return ValueOpaque
}

// Known tells if tag is one of the tags, defined above
func (tag ValueTag) Known() bool {
	return tag == TagOctetString || tag.Kind() != ValueOpaque
}

// String returns tag name, as defined by RFC 8010
func (tag ValueTag) String() string {
	return goipp.Tag(tag).String()
}

// Value is the attribute value. The set of implementations
// is closed: Integer, Boolean, String, DateTime, Resolution,
// Range, TextWithLang, Collection, Void and Octets
type Value interface {
	Kind() ValueKind
	String() string
	ippValue() goipp.Value
}

// Integer value. Use with TagInteger, TagEnum
type Integer int

// Boolean value. Use with TagBoolean
type Boolean bool

// String value. Use with TagText, TagName, TagKeyword and other
// string-based tags
type String string

// DateTime value. Use with TagDateTime
//
// The wire format carries deciseconds, so DateTime is encoded
// and compared truncated to DateTimePrecision
type DateTime struct{ time.Time }

// DateTimePrecision is the resolution of the IPP dateTime
const DateTimePrecision = 100 * time.Millisecond

// wire returns DateTime, truncated to the wire precision
func (v DateTime) wire() time.Time {
	return v.Time.Truncate(DateTimePrecision)
}

// Resolution value. Use with TagResolution
type Resolution struct {
	X, Y  int             // Cross-feed and feed resolution
	Units ResolutionUnits // Units
}

// ResolutionUnits represents resolution units
type ResolutionUnits uint8

// Resolution units
const (
	UnitsDpi  ResolutionUnits = 3 // Dots per inch
	UnitsDpcm ResolutionUnits = 4 // Dots per cm
)

// Range value. Use with TagRange
type Range struct {
	Lower, Upper int
}

// TextWithLang value. Use with TagTextLang, TagNameLang
type TextWithLang struct {
	Lang, Text string
}

// Collection value. Use with TagCollection
type Collection []Attribute

// Void value. Use with out-of-band tags
type Void struct{}

// Octets value. Use with TagOctetString and tags, unknown to
// this package
type Octets []byte

func (Integer) Kind() ValueKind      { return ValueInteger }
func (Boolean) Kind() ValueKind      { return ValueBoolean }
func (String) Kind() ValueKind       { return ValueString }
func (DateTime) Kind() ValueKind     { return ValueDateTime }
func (Resolution) Kind() ValueKind   { return ValueResolution }
func (Range) Kind() ValueKind        { return ValueRange }
func (TextWithLang) Kind() ValueKind { return ValueTextWithLang }
func (Collection) Kind() ValueKind   { return ValueCollection }
func (Void) Kind() ValueKind         { return ValueVoid }
func (Octets) Kind() ValueKind       { return ValueOpaque }

func (v Integer) String() string    { return fmt.Sprintf("%d", int(v)) }
func (v Boolean) String() string    { return fmt.Sprintf("%t", bool(v)) }
func (v String) String() string     { return string(v) }
func (v DateTime) String() string   { return v.Time.Format(time.RFC3339) }
func (v Range) String() string      { return fmt.Sprintf("%d-%d", v.Lower, v.Upper) }
func (v TextWithLang) String() string { return v.Text + " [" + v.Lang + "]" }
func (Void) String() string         { return "" }
func (v Octets) String() string     { return fmt.Sprintf("%x", []byte(v)) }

// String returns Resolution as string, i.e. "600x600dpi"
func (v Resolution) String() string {
	units := "dpi"
	switch v.Units {
	case UnitsDpi:
	case UnitsDpcm:
		units = "dpcm"
	default:
		units = fmt.Sprintf("0x%2.2x", uint8(v.Units))
	}
	return fmt.Sprintf("%dx%d%s", v.X, v.Y, units)
}

// String returns Collection as string, i.e. "{a=1 b=2}"
func (v Collection) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range v {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%s=%s", attr.Name, attr.ValueString())
	}
	buf.WriteByte('}')
	return buf.String()
}

func (v Integer) ippValue() goipp.Value  { return goipp.Integer(v) }
func (v Boolean) ippValue() goipp.Value  { return goipp.Boolean(v) }
func (v String) ippValue() goipp.Value   { return goipp.String(v) }
func (v DateTime) ippValue() goipp.Value { return goipp.Time{Time: v.wire()} }
func (Void) ippValue() goipp.Value       { return goipp.Void{} }
func (v Octets) ippValue() goipp.Value   { return goipp.Binary(v) }

func (v Resolution) ippValue() goipp.Value {
	return goipp.Resolution{Xres: v.X, Yres: v.Y, Units: goipp.Units(v.Units)}
}

func (v Range) ippValue() goipp.Value {
	return goipp.Range{Lower: v.Lower, Upper: v.Upper}
}

func (v TextWithLang) ippValue() goipp.Value {
	return goipp.TextWithLang{Lang: v.Lang, Text: v.Text}
}

func (v Collection) ippValue() goipp.Value {
	col := make(goipp.Collection, 0, len(v))
	for _, attr := range v {
		col = append(col, attr.ippAttr())
	}
	return col
}

// TaggedValue is a single value with its tag
type TaggedValue struct {
	Tag   ValueTag
	Value Value
}

// Attribute represents a single, possibly multi-valued, IPP attribute
type Attribute struct {
	Name   string        // Attribute name
	Values []TaggedValue // Values, in wire order
}

// MakeAttr creates a new Attribute. All values share the same tag.
// It panics if tag and value representation don't agree, so it
// is only intended for attributes, built by the program itself
func MakeAttr(name string, tag ValueTag, val1 Value, values ...Value) Attribute {
	attr := Attribute{Name: name}
	for _, v := range append([]Value{val1}, values...) {
		if err := checkValue(tag, v); err != nil {
			panic(fmt.Sprintf("MakeAttr(%q): %s", name, err))
		}
		attr.Values = append(attr.Values, TaggedValue{tag, v})
	}
	return attr
}

// MakeCollection creates a new single-valued collection Attribute
func MakeCollection(name string, members ...Attribute) Attribute {
	return MakeAttr(name, TagCollection, Collection(members))
}

// Tag returns tag of the first value, or 0 for empty Attribute
func (a Attribute) Tag() ValueTag {
	if len(a.Values) == 0 {
		return 0
	}
	return a.Values[0].Tag
}

// ValueString returns attribute values as string. Multiple
// values are comma-separated and put into brackets
func (a Attribute) ValueString() string {
	if len(a.Values) == 1 {
		return a.Values[0].Value.String()
	}

	strs := make([]string, len(a.Values))
	for i, v := range a.Values {
		strs[i] = v.Value.String()
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// Equal performs deep comparison of two attributes
func (a Attribute) Equal(a2 Attribute) bool {
	if a.Name != a2.Name || len(a.Values) != len(a2.Values) {
		return false
	}

	for i, v := range a.Values {
		v2 := a2.Values[i]
		if v.Tag != v2.Tag || !valueEqual(v.Value, v2.Value) {
			return false
		}
	}

	return true
}

// ippAttr converts Attribute to goipp representation
func (a Attribute) ippAttr() goipp.Attribute {
	attr := goipp.Attribute{Name: a.Name}
	for _, v := range a.Values {
		attr.Values.Add(goipp.Tag(v.Tag), v.Value.ippValue())
	}
	return attr
}

// valueEqual compares two values
func valueEqual(v1, v2 Value) bool {
	if v1.Kind() != v2.Kind() {
		return false
	}

	switch v1 := v1.(type) {
	case DateTime:
		return v1.wire().Equal(v2.(DateTime).wire())
	case Octets:
		return bytes.Equal(v1, v2.(Octets))
	case Collection:
		c2 := v2.(Collection)
		if len(v1) != len(c2) {
			return false
		}
		for i := range v1 {
			if !v1[i].Equal(c2[i]) {
				return false
			}
		}
		return true
	}

	return v1 == v2
}

// checkValue verifies that tag and value representation agree
func checkValue(tag ValueTag, v Value) error {
	if v == nil {
		return fmt.Errorf("%s: missed value", tag)
	}

	if tag.Kind() != v.Kind() {
		return fmt.Errorf("%s: %T value doesn't match the tag", tag, v)
	}

	var ints []int
	switch v := v.(type) {
	case Integer:
		ints = []int{int(v)}
	case Range:
		ints = []int{v.Lower, v.Upper}
	case Resolution:
		ints = []int{v.X, v.Y}
	}

	for _, i := range ints {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("%s: %d out of 32-bit range", tag, i)
		}
	}

	return nil
}

// GroupTag is the attribute group delimiter tag
type GroupTag int

// Group tags, recognized by this package. Other group
// tags are rejected by the decoder
const (
	GroupOperation         GroupTag = 0x01
	GroupJob               GroupTag = 0x02
	GroupPrinter           GroupTag = 0x04
	GroupUnsupported       GroupTag = 0x05
	GroupSubscription      GroupTag = 0x06
	GroupEventNotification GroupTag = 0x07
	GroupResource          GroupTag = 0x08
	GroupDocument          GroupTag = 0x09
	GroupSystem            GroupTag = 0x0a
)

// Known tells if GroupTag is defined by the protocol
func (tag GroupTag) Known() bool {
	switch tag {
	case GroupOperation, GroupJob, GroupPrinter, GroupUnsupported,
		GroupSubscription, GroupEventNotification, GroupResource,
		GroupDocument, GroupSystem:
		return true
	}
	return false
}

// String returns GroupTag name
func (tag GroupTag) String() string {
	return goipp.Tag(tag).String()
}

// AttributeGroup is an ordered sequence of attributes, scoped to
// the group tag
type AttributeGroup struct {
	Tag   GroupTag
	Attrs []Attribute
}

// Add appends attribute to the group
func (g *AttributeGroup) Add(attr Attribute) {
	g.Attrs = append(g.Attrs, attr)
}

// Get returns first attribute with the given name
func (g AttributeGroup) Get(name string) (Attribute, bool) {
	for _, attr := range g.Attrs {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// All returns all attributes with the given name, in order
func (g AttributeGroup) All(name string) []Attribute {
	var out []Attribute
	for _, attr := range g.Attrs {
		if attr.Name == name {
			out = append(out, attr)
		}
	}
	return out
}

// Strings returns values of string-kind attribute. Values of
// other kind are skipped
func (g AttributeGroup) Strings(name string) []string {
	attr, _ := g.Get(name)
	var strs []string
	for _, v := range attr.Values {
		if s, ok := v.Value.(String); ok {
			strs = append(strs, string(s))
		}
	}
	return strs
}

// StringValue returns first value of string-kind attribute
func (g AttributeGroup) StringValue(name string) string {
	if strs := g.Strings(name); len(strs) > 0 {
		return strs[0]
	}
	return ""
}

// Ints returns values of integer-kind attribute
func (g AttributeGroup) Ints(name string) []int {
	attr, _ := g.Get(name)
	var ints []int
	for _, v := range attr.Values {
		if i, ok := v.Value.(Integer); ok {
			ints = append(ints, int(i))
		}
	}
	return ints
}

// Int returns first value of integer-kind attribute
func (g AttributeGroup) Int(name string) (int, bool) {
	if ints := g.Ints(name); len(ints) > 0 {
		return ints[0], true
	}
	return 0, false
}

// Bool returns first value of boolean attribute
func (g AttributeGroup) Bool(name string) (bool, bool) {
	attr, _ := g.Get(name)
	for _, v := range attr.Values {
		if b, ok := v.Value.(Boolean); ok {
			return bool(b), true
		}
	}
	return false, false
}

// Collections returns values of collection attribute
func (g AttributeGroup) Collections(name string) []Collection {
	attr, _ := g.Get(name)
	var cols []Collection
	for _, v := range attr.Values {
		if c, ok := v.Value.(Collection); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// Equal performs deep comparison of two groups
func (g AttributeGroup) Equal(g2 AttributeGroup) bool {
	if g.Tag != g2.Tag || len(g.Attrs) != len(g2.Attrs) {
		return false
	}

	for i := range g.Attrs {
		if !g.Attrs[i].Equal(g2.Attrs[i]) {
			return false
		}
	}

	return true
}

// Member returns collection member by name
func (c Collection) Member(name string) (Attribute, bool) {
	return AttributeGroup{Attrs: c}.Get(name)
}

// Group returns collection members as AttributeGroup, for lookup
func (c Collection) Group() AttributeGroup {
	return AttributeGroup{Attrs: c}
}

// Message represents IPP request or response
type Message struct {
	Version   goipp.Version    // Protocol version
	Code      goipp.Code       // Operation for request, status for response
	RequestID uint32           // Request ID
	Groups    []AttributeGroup // Attribute groups, in wire order
	Data      []byte           // Data, following the end-of-attributes tag
}

// Status returns message Code as goipp.Status
func (m *Message) Status() goipp.Status {
	return goipp.Status(m.Code)
}

// Group returns the first group with the given tag
func (m *Message) Group(tag GroupTag) (AttributeGroup, bool) {
	for _, g := range m.Groups {
		if g.Tag == tag {
			return g, true
		}
	}
	return AttributeGroup{Tag: tag}, false
}

// GroupsOf returns all groups with the given tag, in order
func (m *Message) GroupsOf(tag GroupTag) []AttributeGroup {
	var out []AttributeGroup
	for _, g := range m.Groups {
		if g.Tag == tag {
			out = append(out, g)
		}
	}
	return out
}

// ippMessage converts Message into goipp representation
func (m *Message) ippMessage() *goipp.Message {
	msg := &goipp.Message{
		Version:   m.Version,
		Code:      m.Code,
		RequestID: m.RequestID,
	}

	for _, g := range m.Groups {
		attrs := make(goipp.Attributes, 0, len(g.Attrs))
		for _, attr := range g.Attrs {
			attrs = append(attrs, attr.ippAttr())
		}

		msg.Groups = append(msg.Groups, goipp.Group{Tag: goipp.Tag(g.Tag), Attrs: attrs})

		switch g.Tag {
		case GroupOperation:
			msg.Operation = append(msg.Operation, attrs...)
		case GroupJob:
			msg.Job = append(msg.Job, attrs...)
		case GroupPrinter:
			msg.Printer = append(msg.Printer, attrs...)
		case GroupUnsupported:
			msg.Unsupported = append(msg.Unsupported, attrs...)
		case GroupSubscription:
			msg.Subscription = append(msg.Subscription, attrs...)
		case GroupEventNotification:
			msg.EventNotification = append(msg.EventNotification, attrs...)
		}
	}

	return msg
}

// EncodeMessage encodes Message into the wire format
func EncodeMessage(m *Message) ([]byte, error) {
	for _, g := range m.Groups {
		if !g.Tag.Known() {
			return nil, errorf(KindDecode, "encode", "", "unknown group tag 0x%2.2x", int(g.Tag))
		}
		for _, attr := range g.Attrs {
			if err := checkAttr(attr); err != nil {
				return nil, newError(KindDecode, "encode", "", err)
			}
		}
	}

	data, err := m.ippMessage().EncodeBytes()
	if err != nil {
		return nil, newError(KindDecode, "encode", "", err)
	}

	return data, nil
}

// DecodeMessage decodes Message from the wire format. Bytes
// that follow the message (i.e., document data of the
// CUPS-Get-Document response) are returned in Message.Data
//
// If workarounds is true, goipp decoder workarounds for known
// printer bugs are enabled
func DecodeMessage(data []byte, workarounds bool) (*Message, error) {
	var msg goipp.Message
	in := bytes.NewReader(data)
	opt := goipp.DecoderOptions{EnableWorkarounds: workarounds}
	err := msg.DecodeEx(in, opt)
	if err != nil {
		return nil, newError(KindDecode, "decode", "", err)
	}

	m := &Message{
		Version:   msg.Version,
		Code:      msg.Code,
		RequestID: msg.RequestID,
	}

	if in.Len() > 0 {
		m.Data = data[len(data)-in.Len():]
	}

	for _, grp := range msg.Groups {
		tag := GroupTag(grp.Tag)
		if !tag.Known() {
			return nil, errorf(KindDecode, "decode", "", "unknown group tag %s", grp.Tag)
		}

		g := AttributeGroup{Tag: tag}
		for _, attr := range grp.Attrs {
			a, err := fromIppAttr(attr)
			if err != nil {
				return nil, newError(KindDecode, "decode", "", err)
			}
			g.Add(a)
		}

		m.Groups = append(m.Groups, g)
	}

	return m, nil
}

// ippHeaderSize is the size of IPP message header: version,
// code and request ID
const ippHeaderSize = 8

// EncodeGroups encodes attribute groups into the wire format
// of the attributes section of IPP message, terminated with
// end-of-attributes tag
func EncodeGroups(groups []AttributeGroup) ([]byte, error) {
	data, err := EncodeMessage(&Message{
		Version: goipp.DefaultVersion,
		Groups:  groups,
	})
	if err != nil {
		return nil, err
	}

	return data[ippHeaderSize:], nil
}

// DecodeGroups decodes attribute groups, previously encoded
// by EncodeGroups
func DecodeGroups(data []byte) ([]AttributeGroup, error) {
	hdr := make([]byte, ippHeaderSize, ippHeaderSize+len(data))
	hdr[0], hdr[1] = goipp.DefaultVersion.Major(), goipp.DefaultVersion.Minor()

	m, err := DecodeMessage(append(hdr, data...), false)
	if err != nil {
		return nil, err
	}

	return m.Groups, nil
}

// checkAttr validates Attribute before encoding
func checkAttr(attr Attribute) error {
	if attr.Name == "" {
		return fmt.Errorf("attribute without name")
	}

	if len(attr.Values) == 0 {
		return fmt.Errorf("%q: attribute without value", attr.Name)
	}

	for _, v := range attr.Values {
		if err := checkValue(v.Tag, v.Value); err != nil {
			return fmt.Errorf("%q: %s", attr.Name, err)
		}

		if col, ok := v.Value.(Collection); ok {
			for _, member := range col {
				if err := checkAttr(member); err != nil {
					return fmt.Errorf("%q: %s", attr.Name, err)
				}
			}
		}
	}

	return nil
}

// fromIppAttr converts goipp.Attribute into Attribute
func fromIppAttr(attr goipp.Attribute) (Attribute, error) {
	a := Attribute{Name: attr.Name}

	for _, v := range attr.Values {
		tag := ValueTag(v.T)
		val, err := fromIppValue(tag, v.V)
		if err != nil {
			return Attribute{}, fmt.Errorf("%q: %s", attr.Name, err)
		}
		a.Values = append(a.Values, TaggedValue{tag, val})
	}

	return a, nil
}

// fromIppValue converts goipp.Value into Value, enforcing
// agreement between the tag and the value representation
func fromIppValue(tag ValueTag, v goipp.Value) (Value, error) {
	var val Value

	switch v := v.(type) {
	case goipp.Integer:
		val = Integer(v)
	case goipp.Boolean:
		val = Boolean(v)
	case goipp.String:
		val = String(v)
	case goipp.Time:
		val = DateTime{v.Time}
	case goipp.Resolution:
		val = Resolution{X: v.Xres, Y: v.Yres, Units: ResolutionUnits(v.Units)}
	case goipp.Range:
		val = Range{Lower: v.Lower, Upper: v.Upper}
	case goipp.TextWithLang:
		val = TextWithLang{Lang: v.Lang, Text: v.Text}
	case goipp.Void:
		val = Void{}
	case goipp.Binary:
		val = Octets(v)
	case goipp.Collection:
		col := make(Collection, 0, len(v))
		for _, member := range v {
			m, err := fromIppAttr(member)
			if err != nil {
				return nil, err
			}
			col = append(col, m)
		}
		val = col
	default:
		return nil, fmt.Errorf("%s: unexpected value %T", tag, v)
	}

	if err := checkValue(tag, val); err != nil {
		return nil, err
	}

	return val, nil
}
