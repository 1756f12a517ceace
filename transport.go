/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * IPP over HTTP transport
 */

package ippclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/OpenPrinting/goipp"
)

// Transport sends IPP requests to printers and receives responses.
// It is safe for concurrent use
type Transport struct {
	conf      *Configuration                 // Timeouts and quirks
	log       *Logger                        // Logger for traces
	tlsConfig *tls.Config                    // TLS configuration, may be nil
	requestID uint32                         // Last used request ID
	session   uint32                         // Last used HTTP session number
	lock      sync.Mutex                     // Access lock for clients
	clients   map[time.Duration]*http.Client // Clients by read timeout
}

// NewTransport creates a new Transport
//
// tlsConfig is used for ipps:// and https:// printers; if
// nil, default TLS configuration is used
func NewTransport(conf *Configuration, log *Logger, tlsConfig *tls.Config) *Transport {
	if conf == nil {
		conf = DefaultConfiguration()
	}

	if log == nil {
		log = nopLogger
	}

	return &Transport{
		conf:      conf,
		log:       log,
		tlsConfig: tlsConfig,
		clients:   make(map[time.Duration]*http.Client),
	}
}

// Send sends IPP request to the printer and returns the decoded
// response. If document is not nil, it is streamed after the
// encoded request. If document size is known, the request is
// sent with Content-Length, otherwise it is chunked.
//
// Non-successful IPP status is not an error at this level and
// must be checked by caller. The request is never retried.
func (t *Transport) Send(ctx context.Context, uri string, op goipp.Op,
	groups []AttributeGroup, document *Document) (*Message, error) {

	opname := op.String()
	quirks := t.conf.Quirks.MatchByURI(uri)

	u, err := TransportURL(uri)
	if err != nil {
		return nil, newError(KindUnsupported, opname, uri, err)
	}

	// Encode the request
	rq := &Message{
		Version:   goipp.DefaultVersion,
		Code:      goipp.Code(op),
		RequestID: atomic.AddUint32(&t.requestID, 1),
		Groups:    groups,
	}

	data, err := EncodeMessage(rq)
	if err != nil {
		return nil, withOp(err, opname, uri)
	}

	session := t.nextSession()
	t.logMessage(session, '>', rq, true)

	// Apply request delay, if required
	if delay := quirks.GetRequestDelay(); delay > 0 {
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return nil, t.transportError(ctx, opname, uri, ctx.Err())
		case <-tmr.C:
		}
	}

	// Build HTTP request
	var body io.Reader = bytes.NewReader(data)
	if document != nil {
		body = io.MultiReader(body, document.Body)
	}

	httpRq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, newError(KindUnsupported, opname, uri, err)
	}

	if document != nil && document.Size > 0 {
		httpRq.ContentLength = int64(len(data)) + document.Size
	}

	httpRq.Header.Set("Content-Type", goipp.ContentType)
	httpRq.Header.Set("Accept", goipp.ContentType)

	// Execute HTTP request
	readTimeout := t.conf.ReadTimeout
	if tmo := quirks.GetReadTimeout(); tmo > 0 {
		readTimeout = tmo
	}

	httpLogRequest(t.log, session, httpRq)
	httpRsp, err := t.httpClient(readTimeout).Do(httpRq)
	if err != nil {
		httpLogError(t.log, session, err)
		return nil, t.transportError(ctx, opname, uri, err)
	}

	defer httpRsp.Body.Close()
	httpLogResponse(t.log, session, httpRsp)

	// Check HTTP status and content type
	if httpRsp.StatusCode/100 != 2 {
		return nil, &Error{
			Kind:       KindTransport,
			Transport:  TransportProtocol,
			Op:         opname,
			URI:        uri,
			HTTPStatus: httpRsp.StatusCode,
			Err:        errors.New(httpRsp.Status),
		}
	}

	ct := httpRsp.Header.Get("Content-Type")
	if mt, _, _ := mime.ParseMediaType(ct); mt != goipp.ContentType {
		return nil, &Error{
			Kind:       KindTransport,
			Transport:  TransportProtocol,
			Op:         opname,
			URI:        uri,
			HTTPStatus: httpRsp.StatusCode,
			Err:        errorf(KindDecode, "", "", "unexpected Content-Type %q", ct),
		}
	}

	// Read and decode response
	rspData, err := httpReadBody(httpRsp.Body, readTimeout)
	if err != nil {
		httpLogError(t.log, session, err)
		return nil, t.transportError(ctx, opname, uri, err)
	}

	rsp, err := DecodeMessage(rspData, quirks.GetDecoderWorkarounds())
	if err != nil {
		t.log.Begin().
			Error('!', "IPP[%d]: %s", session, err).
			Dump(LogDebug, rspData, "IPP[%d]: response body:", session).
			Commit()

		return nil, &Error{
			Kind:       KindTransport,
			Transport:  TransportProtocol,
			Op:         opname,
			URI:        uri,
			HTTPStatus: httpRsp.StatusCode,
			Err:        err,
		}
	}

	if rsp.RequestID != rq.RequestID {
		t.log.Debug('!', "IPP[%d]: request-id mismatch: sent %d, received %d",
			session, rq.RequestID, rsp.RequestID)
	}

	t.logMessage(session, '<', rsp, false)

	return rsp, nil
}

// TransportURL converts printer URI into HTTP URL:
//
//	ipp://host[:port]/path  -> http://host:631/path
//	ipps://host[:port]/path -> https://host:631/path
//	http://, https://       -> unchanged
//
// Other schemes are rejected.
func TransportURL(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	if u.Host == "" {
		return nil, errors.New("missed host in printer URI")
	}

	switch strings.ToLower(u.Scheme) {
	case "ipp":
		u.Scheme = "http"
	case "ipps":
		u.Scheme = "https"
	case "http", "https":
		u.Scheme = strings.ToLower(u.Scheme)
		return u, nil
	default:
		return nil, errors.New("unsupported URI scheme " + strconv.Quote(u.Scheme))
	}

	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(IppPort))
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u, nil
}

// httpClient returns http.Client for the given read timeout
func (t *Transport) httpClient(readTimeout time.Duration) *http.Client {
	t.lock.Lock()
	defer t.lock.Unlock()

	if clnt := t.clients[readTimeout]; clnt != nil {
		return clnt
	}

	dialer := &net.Dialer{
		Timeout:   t.conf.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       t.tlsConfig,
		TLSHandshakeTimeout:   t.conf.ConnectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	clnt := &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.clients[readTimeout] = clnt
	return clnt
}

// nextSession returns the next HTTP session number, for logging
func (t *Transport) nextSession() uint32 {
	return atomic.AddUint32(&t.session, 1)
}

// CloseIdleConnections closes all idle connections, kept by Transport
func (t *Transport) CloseIdleConnections() {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, clnt := range t.clients {
		clnt.CloseIdleConnections()
	}
}

// transportError classifies network error and wraps it into *Error
func (t *Transport) transportError(ctx context.Context,
	op, uri string, err error) *Error {

	e := &Error{Kind: KindTransport, Op: op, URI: uri, Err: err}

	var netErr net.Error
	var unknownAuthority x509.UnknownAuthorityError
	var certInvalid x509.CertificateInvalidError
	var hostname x509.HostnameError
	var recordHeader tls.RecordHeaderError
	var certVerify *tls.CertificateVerificationError

	switch {
	case errors.Is(err, context.Canceled):
		// Cancelled by caller; not a timeout

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		e.Transport = TransportTimeout

	case errors.As(err, &unknownAuthority), errors.As(err, &certInvalid),
		errors.As(err, &hostname), errors.As(err, &recordHeader),
		errors.As(err, &certVerify):
		e.Transport = TransportTLSFailure

	case errors.Is(err, syscall.ECONNREFUSED):
		e.Transport = TransportConnectionRefused

	case errors.As(err, &netErr) && netErr.Timeout():
		e.Transport = TransportTimeout

	case strings.Contains(err.Error(), "tls:"):
		e.Transport = TransportTLSFailure
	}

	return e
}

// withOp fills Op and URI of the *Error
func withOp(err error, op, uri string) error {
	var e *Error
	if errors.As(err, &e) {
		e2 := *e
		e2.Op, e2.URI = op, uri
		return &e2
	}
	return newError(KindTransport, op, uri, err)
}

// logMessage writes IPP message to the log at LogTraceIPP level
func (t *Transport) logMessage(session uint32, prefix byte,
	m *Message, request bool) {

	if !t.log.Enabled(LogTraceIPP) {
		return
	}

	kind := "response"
	if request {
		kind = "request"
	}

	t.log.Begin().
		add(LogTraceIPP, prefix, "IPP[%d]: %s:", session, kind).
		Commit()

	lw := t.log.LineWriter(LogTraceIPP, prefix)
	m.ippMessage().Print(lw, request)
	lw.Close()
}
