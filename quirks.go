/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Printer-specific quirks
 */

package ippclient

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Quirk represents a single quirk
type Quirk struct {
	Origin    string      // file [section] of definition
	Match     string      // Printer URI match pattern
	Name      string      // Quirk name
	RawValue  string      // Quirk raw (not parsed) value
	Parsed    interface{} // Parsed Value
	LoadOrder int         // Incremented in order of loading
}

// Quirk names. Use these constants instead of literal strings,
// so compiler will catch a mistake:
const (
	QuirkNmDecoderWorkarounds   = "decoder-workarounds"
	QuirkNmIgnoreDocumentFormat = "ignore-document-format"
	QuirkNmReadTimeout          = "read-timeout"
	QuirkNmRequestDelay         = "request-delay"
)

// quirkParse maps quirk names into appropriate parsing methods,
// which defines value syntax and resulting type.
var quirkParse = map[string]func(*Quirk) error{
	QuirkNmDecoderWorkarounds:   (*Quirk).parseBool,
	QuirkNmIgnoreDocumentFormat: (*Quirk).parseBool,
	QuirkNmReadTimeout:          (*Quirk).parseDuration,
	QuirkNmRequestDelay:         (*Quirk).parseDuration,
}

// quirkDefaultStrings contains default values for quirks, in
// a string form. Zero read-timeout means "use configured default"
var quirkDefaultStrings = map[string]string{
	QuirkNmDecoderWorkarounds:   "false",
	QuirkNmIgnoreDocumentFormat: "false",
	QuirkNmReadTimeout:          "0",
	QuirkNmRequestDelay:         "0",
}

// quirkDefault contains default values for quirks, precompiled.
var quirkDefault = make(map[string]*Quirk)

// init populates quirkDefault using quirk values from quirkDefaultStrings.
func init() {
	for name, value := range quirkDefaultStrings {
		q := &Quirk{
			Origin:    "default",
			Match:     "*",
			Name:      name,
			RawValue:  value,
			LoadOrder: math.MaxInt32,
		}

		parse := quirkParse[name]
		err := parse(q)
		if err != nil {
			panic(err)
		}

		quirkDefault[name] = q
	}
}

// NewQuirk creates a new Quirk and parses its value
func NewQuirk(origin, match, name, value string, loadOrder int) (*Quirk, error) {
	parse := quirkParse[name]
	if parse == nil {
		return nil, fmt.Errorf("%s: unknown quirk %q", origin, name)
	}

	q := &Quirk{
		Origin:    origin,
		Match:     match,
		Name:      name,
		RawValue:  value,
		LoadOrder: loadOrder,
	}

	err := parse(q)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %s", origin, name, err)
	}

	return q, nil
}

// parseBool parses and saves [Quirk.RawValue] as bool.
func (q *Quirk) parseBool() error {
	switch q.RawValue {
	case "true":
		q.Parsed = true
	case "false":
		q.Parsed = false
	default:
		return fmt.Errorf("%q: must be true or false", q.RawValue)
	}

	return nil
}

// parseDuration parses [Quirk.RawValue] as time.Duration.
func (q *Quirk) parseDuration() error {
	v, err := parseDuration(q.RawValue)
	if err != nil {
		return err
	}

	q.Parsed = v
	return nil
}

// parseDuration parses duration. Plain unsigned integer is
// interpreted as a millisecond time, everything else is
// parsed with time.ParseDuration. Negative durations are
// not allowed
func parseDuration(s string) (time.Duration, error) {
	ms, err := strconv.ParseUint(s, 10, 32)
	if err == nil {
		return time.Millisecond * time.Duration(ms), nil
	}

	// Note, time.ParseDuration allows signed duration,
	// but we don't.
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%q: invalid duration", s)
	}

	v, err := time.ParseDuration(s)
	if err == nil && v >= 0 {
		return v, nil
	}

	return 0, fmt.Errorf("%q: invalid duration", s)
}

// prioritize returns more prioritized Quirk, choosing between q and q2.
func (q *Quirk) prioritize(q2 *Quirk, uri string) *Quirk {
	matchlen := GlobMatch(uri, q.Match)
	matchlen2 := GlobMatch(uri, q2.Match)

	switch {
	// Choose by match length (more specific match wins)
	case matchlen > matchlen2:
		return q
	case matchlen < matchlen2:
		return q2

	// Choose by load order (first loaded wins)
	case q2.LoadOrder < q.LoadOrder:
		return q2
	}

	return q
}

// Quirks is the collection of Quirk, indexed by Quirk.Name,
// applicable to the particular printer
type Quirks struct {
	byName map[string]*Quirk // Quirks by name
}

// Get returns quirk by name.
func (quirks Quirks) Get(name string) *Quirk {
	q := quirks.byName[name]
	if q == nil {
		q = quirkDefault[name]
	}

	return q
}

// All returns all quirks in the collection, sorted by name.
func (quirks Quirks) All() []*Quirk {
	qq := make([]*Quirk, 0, len(quirks.byName))
	for _, q := range quirks.byName {
		qq = append(qq, q)
	}

	sort.Slice(qq, func(i, j int) bool {
		return qq[i].Name < qq[j].Name
	})

	return qq
}

// GetDecoderWorkarounds returns effective "decoder-workarounds"
// parameter
func (quirks Quirks) GetDecoderWorkarounds() bool {
	return quirks.Get(QuirkNmDecoderWorkarounds).Parsed.(bool)
}

// GetIgnoreDocumentFormat returns effective "ignore-document-format"
// parameter
func (quirks Quirks) GetIgnoreDocumentFormat() bool {
	return quirks.Get(QuirkNmIgnoreDocumentFormat).Parsed.(bool)
}

// GetReadTimeout returns effective "read-timeout" parameter
func (quirks Quirks) GetReadTimeout() time.Duration {
	return quirks.Get(QuirkNmReadTimeout).Parsed.(time.Duration)
}

// GetRequestDelay returns effective "request-delay" parameter
func (quirks Quirks) GetRequestDelay() time.Duration {
	return quirks.Get(QuirkNmRequestDelay).Parsed.(time.Duration)
}

// QuirksSet represents all quirks, loaded from configuration
type QuirksSet []*Quirk

// Add appends Quirk to QuirksSet
func (qset *QuirksSet) Add(q *Quirk) {
	*qset = append(*qset, q)
}

// MatchByURI returns collection of quirks, applicable for
// specific printer, matched by printer URI.
func (qset QuirksSet) MatchByURI(uri string) Quirks {
	ret := Quirks{
		byName: make(map[string]*Quirk),
	}

	for _, q := range qset {
		if GlobMatch(uri, q.Match) >= 0 {
			q2 := ret.byName[q.Name]
			if q2 != nil {
				q = q.prioritize(q2, uri)
			}
			ret.byName[q.Name] = q
		}
	}

	return ret
}
