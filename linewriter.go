/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Line-oriented io.Writer
 */

package ippclient

import (
	"bytes"
)

// LineWriter implements io.WriteCloser. It splits the stream
// into text lines and passes each line, without the line
// terminator, to Func.
//
// It routes the multi-line text, produced by the goipp message
// formatter, into the Logger, one log line per text line.
// The unterminated last line is kept buffered until Close.
type LineWriter struct {
	Func func(line []byte) // Called for each line
	buf  bytes.Buffer      // Unterminated line
}

// Write implements io.Writer interface
func (lw *LineWriter) Write(text []byte) (int, error) {
	n := len(text)

	for {
		line, rest, found := bytes.Cut(text, []byte{'\n'})
		if !found {
			lw.buf.Write(text)
			return n, nil
		}

		if lw.buf.Len() > 0 {
			lw.buf.Write(line)
			line = lw.buf.Bytes()
		}

		lw.Func(bytes.TrimSuffix(line, []byte{'\r'}))
		lw.buf.Reset()
		text = rest
	}
}

// Close implements io.Closer interface. It flushes the
// unterminated last line, if any
func (lw *LineWriter) Close() error {
	if lw.buf.Len() > 0 {
		lw.Func(lw.buf.Bytes())
		lw.buf.Reset()
	}
	return nil
}
