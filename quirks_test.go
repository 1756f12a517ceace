/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Tests for printer-specific quirks
 */

package ippclient

import (
	"reflect"
	"testing"
	"time"
)

// TestQuirksLookup tests lookup of various parameters
func TestQuirksLookup(t *testing.T) {
	const path = "testdata/ipp-client.conf"

	conf, err := ConfLoadFiles(path)
	if err != nil {
		t.Fatalf("ConfLoadFiles(%q): %s", path, err)
	}

	qset := conf.Quirks

	// Test loaded values against expected
	type testData struct {
		uri    string                   // Printer URI
		param  string                   // Parameter (quirk) name
		get    func(Quirks) interface{} // Lookup function
		match  string                   // Expected match
		value  interface{}              // Expected value
		origin string                   // Expected origin
	}

	getDecoderWorkarounds := func(quirks Quirks) interface{} {
		return quirks.GetDecoderWorkarounds()
	}

	getRequestDelay := func(quirks Quirks) interface{} {
		return quirks.GetRequestDelay()
	}

	getReadTimeout := func(quirks Quirks) interface{} {
		return quirks.GetReadTimeout()
	}

	getIgnoreDocumentFormat := func(quirks Quirks) interface{} {
		return quirks.GetIgnoreDocumentFormat()
	}

	tests := []testData{
		// Default values for unknown printer
		{
			uri:    "ipp://10.0.0.5/ipp/print",
			param:  QuirkNmDecoderWorkarounds,
			get:    getDecoderWorkarounds,
			match:  "*",
			value:  false,
			origin: "default",
		},

		{
			uri:    "ipp://10.0.0.5/ipp/print",
			param:  QuirkNmRequestDelay,
			get:    getRequestDelay,
			match:  "*",
			value:  time.Duration(0),
			origin: `testdata/ipp-client.conf [printer "*"]`,
		},

		// Subnet match
		{
			uri:    "ipp://192.168.1.5/ipp/print",
			param:  QuirkNmDecoderWorkarounds,
			get:    getDecoderWorkarounds,
			match:  "ipp://192.168.1.*",
			value:  true,
			origin: `testdata/ipp-client.conf [printer "ipp://192.168.1.*"]`,
		},

		{
			uri:    "ipp://192.168.1.5/ipp/print",
			param:  QuirkNmRequestDelay,
			get:    getRequestDelay,
			match:  "ipp://192.168.1.*",
			value:  100 * time.Millisecond,
			origin: `testdata/ipp-client.conf [printer "ipp://192.168.1.*"]`,
		},

		// Exact match wins over the subnet match
		{
			uri:    "ipp://192.168.1.10/ipp/print",
			param:  QuirkNmReadTimeout,
			get:    getReadTimeout,
			match:  "ipp://192.168.1.10/ipp/print",
			value:  time.Minute,
			origin: `testdata/ipp-client.conf [printer "ipp://192.168.1.10/ipp/print"]`,
		},

		{
			uri:    "ipp://192.168.1.10/ipp/print",
			param:  QuirkNmIgnoreDocumentFormat,
			get:    getIgnoreDocumentFormat,
			match:  "ipp://192.168.1.10/ipp/print",
			value:  true,
			origin: `testdata/ipp-client.conf [printer "ipp://192.168.1.10/ipp/print"]`,
		},

		// ... but subnet quirks still apply
		{
			uri:    "ipp://192.168.1.10/ipp/print",
			param:  QuirkNmDecoderWorkarounds,
			get:    getDecoderWorkarounds,
			match:  "ipp://192.168.1.*",
			value:  true,
			origin: `testdata/ipp-client.conf [printer "ipp://192.168.1.*"]`,
		},
	}

	for _, test := range tests {
		quirks := qset.MatchByURI(test.uri)
		value := test.get(quirks)
		quirk := quirks.Get(test.param)

		if !reflect.DeepEqual(value, test.value) {
			t.Errorf("%q: %s value mismatch:\n"+
				"expected: %v\n"+
				"present:  %v\n",
				test.uri, test.param, test.value, value)
		}

		if quirk.Match != test.match {
			t.Errorf("%q: %s match mismatch:\n"+
				"expected: %q\n"+
				"present:  %q\n",
				test.uri, test.param, test.match, quirk.Match)
		}

		if quirk.Origin != test.origin {
			t.Errorf("%q: %s origin mismatch:\n"+
				"expected: %q\n"+
				"present:  %q\n",
				test.uri, test.param, test.origin, quirk.Origin)
		}
	}
}

// TestQuirksAll tests Quirks.All
func TestQuirksAll(t *testing.T) {
	conf, err := ConfLoadFiles("testdata/ipp-client.conf")
	if err != nil {
		t.Fatalf("ConfLoadFiles: %s", err)
	}

	quirks := conf.Quirks.MatchByURI("ipp://192.168.1.10/ipp/print")

	names := []string{}
	for _, q := range quirks.All() {
		names = append(names, q.Name)
	}

	expected := []string{
		QuirkNmDecoderWorkarounds,
		QuirkNmIgnoreDocumentFormat,
		QuirkNmReadTimeout,
		QuirkNmRequestDelay,
	}

	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected %v, present %v", expected, names)
	}
}

// TestParseDuration tests parsing of durations
func TestParseDuration(t *testing.T) {
	type testData struct {
		in  string
		out time.Duration
		ok  bool
	}

	tests := []testData{
		{"0", 0, true},
		{"250", 250 * time.Millisecond, true},
		{"1.5s", 1500 * time.Millisecond, true},
		{"2m", 2 * time.Minute, true},
		{"-1s", 0, false},
		{"+1s", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}

	for _, test := range tests {
		out, err := parseDuration(test.in)
		switch {
		case test.ok && err != nil:
			t.Errorf("%q: unexpected error %s", test.in, err)
		case !test.ok && err == nil:
			t.Errorf("%q: error not detected", test.in)
		case out != test.out:
			t.Errorf("%q: expected %s, present %s", test.in, test.out, out)
		}
	}
}

// TestNewQuirk tests NewQuirk
func TestNewQuirk(t *testing.T) {
	q, err := NewQuirk("test", "*", QuirkNmDecoderWorkarounds, "true", 0)
	if err != nil {
		t.Fatalf("NewQuirk: %s", err)
	}

	if q.Parsed != true {
		t.Errorf("parsed value: expected true, present %v", q.Parsed)
	}

	_, err = NewQuirk("test", "*", QuirkNmDecoderWorkarounds, "yes", 0)
	if err == nil {
		t.Errorf("invalid bool not detected")
	}

	_, err = NewQuirk("test", "*", "unknown", "true", 0)
	if err == nil {
		t.Errorf("unknown quirk not detected")
	}
}
