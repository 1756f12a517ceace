/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * HTTP helpers
 */

package ippclient

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// httpTimeoutError returned by httpReadBody when response body
// stalls for longer that read timeout. It implements net.Error
type httpTimeoutError struct{}

func (httpTimeoutError) Error() string   { return "timeout reading response body" }
func (httpTimeoutError) Timeout() bool   { return true }
func (httpTimeoutError) Temporary() bool { return false }

// Log HTTP header
func httpLogHeader(msg *LogMessage, prefix byte, title string, hdr http.Header) {
	keys := []string{}
	for k := range hdr {
		keys = append(keys, k)
	}

	msg.add(LogTraceHTTP, prefix, "%s", title)
	sort.Strings(keys)
	for _, k := range keys {
		msg.add(LogTraceHTTP, prefix, "%s: %s", k, hdr.Get(k))
	}

	msg.add(LogTraceHTTP, prefix, "")
}

// Log HTTP request
func httpLogRequest(log *Logger, session uint32, rq *http.Request) {
	msg := log.Begin()
	msg.Debug('>', "HTTP[%d]: %s %s", session, rq.Method, rq.URL)
	httpLogHeader(msg, '>', rq.Method+" "+rq.URL.RequestURI()+" "+rq.Proto, rq.Header)
	msg.Commit()
}

// Log HTTP response
func httpLogResponse(log *Logger, session uint32, rsp *http.Response) {
	msg := log.Begin()
	msg.Debug('<', "HTTP[%d]: %s", session, rsp.Status)
	httpLogHeader(msg, '<', rsp.Proto+" "+rsp.Status, rsp.Header)
	msg.Commit()
}

// Log HTTP error
func httpLogError(log *Logger, session uint32, err error) {
	log.Error('!', "HTTP[%d]: %s", session, err)
}

// httpReadBody reads the entire response body. If body doesn't
// deliver any data within the timeout, it is forcibly closed
// and httpTimeoutError is returned
func httpReadBody(body io.ReadCloser, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return io.ReadAll(body)
	}

	var expired int32
	tmr := time.AfterFunc(timeout, func() {
		atomic.StoreInt32(&expired, 1)
		body.Close()
	})
	defer tmr.Stop()

	var buf bytes.Buffer
	chunk := make([]byte, 32768)

	for {
		n, err := body.Read(chunk)
		buf.Write(chunk[:n])

		switch {
		case err == io.EOF:
			return buf.Bytes(), nil
		case err != nil:
			if atomic.LoadInt32(&expired) != 0 {
				err = httpTimeoutError{}
			}
			return nil, err
		}

		if n > 0 {
			tmr.Reset(timeout)
		}
	}
}
