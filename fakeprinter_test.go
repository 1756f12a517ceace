/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Fake IPP printer for tests
 */

package ippclient

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
)

// fakeRequest is the request, received by fakePrinter
type fakeRequest struct {
	Msg      *goipp.Message // Decoded request
	Document []byte         // Document data, following the request
	Length   int64          // HTTP Content-Length, -1 if chunked
	Reply    []byte         // Set by handler: data, following the response
}

// Op returns request operation
func (rq *fakeRequest) Op() goipp.Op {
	return goipp.Op(rq.Msg.Code)
}

// Attr returns first value of operation attribute as string
func (rq *fakeRequest) Attr(name string) string {
	for _, attr := range rq.Msg.Operation {
		if attr.Name == name && len(attr.Values) > 0 {
			return attr.Values[0].V.String()
		}
	}
	return ""
}

// fakeHandler handles request and returns response. If it
// returns nil, the successful-ok empty response is sent
type fakeHandler func(rq *fakeRequest) *goipp.Message

// fakePrinter is the fake IPP printer, built on httptest.Server
type fakePrinter struct {
	t        *testing.T
	srv      *httptest.Server
	lock     sync.Mutex // Protects handlers and requests
	serial   sync.Mutex // Serializes handlers invocation
	handlers map[goipp.Op]fakeHandler
	requests []*fakeRequest
}

// newFakePrinter creates a new fakePrinter. The printer is
// closed automatically when test finishes
func newFakePrinter(t *testing.T) *fakePrinter {
	p := &fakePrinter{
		t:        t,
		handlers: make(map[goipp.Op]fakeHandler),
	}

	p.srv = httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(p.srv.Close)

	return p
}

// URI returns ipp:// URI of the printer
func (p *fakePrinter) URI() string {
	return "ipp://" + strings.TrimPrefix(p.srv.URL, "http://") + "/ipp/print"
}

// Handle installs handler for the operation
func (p *fakePrinter) Handle(op goipp.Op, handler fakeHandler) {
	p.lock.Lock()
	p.handlers[op] = handler
	p.lock.Unlock()
}

// Requests returns all received requests
func (p *fakePrinter) Requests() []*fakeRequest {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*fakeRequest(nil), p.requests...)
}

// Count returns count of received requests for the operation
func (p *fakePrinter) Count(op goipp.Op) int {
	cnt := 0
	for _, rq := range p.Requests() {
		if rq.Op() == op {
			cnt++
		}
	}
	return cnt
}

// serveHTTP handles HTTP request
func (p *fakePrinter) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.Header.Get("Content-Type") != goipp.ContentType {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var msg goipp.Message
	err := msg.Decode(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, _ := io.ReadAll(r.Body)
	rq := &fakeRequest{Msg: &msg, Document: doc, Length: r.ContentLength}

	p.lock.Lock()
	p.requests = append(p.requests, rq)
	handler := p.handlers[rq.Op()]
	p.lock.Unlock()

	var rsp *goipp.Message
	switch {
	case handler != nil:
		p.serial.Lock()
		rsp = handler(rq)
		p.serial.Unlock()
		if rsp == nil {
			rsp = fakeResponse(rq, goipp.StatusOk)
		}
	default:
		rsp = fakeResponse(rq, goipp.StatusErrorOperationNotSupported)
	}

	var buf bytes.Buffer
	if err = rsp.Encode(&buf); err != nil {
		p.t.Errorf("fakePrinter: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	buf.Write(rq.Reply)

	w.Header().Set("Content-Type", goipp.ContentType)
	w.Write(buf.Bytes())
}

// fakeResponse creates response to the request with the status
// and the mandatory operation attributes
func fakeResponse(rq *fakeRequest, status goipp.Status) *goipp.Message {
	rsp := goipp.NewResponse(goipp.DefaultVersion, status, rq.Msg.RequestID)
	rsp.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	rsp.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en-US")))
	return rsp
}

// fakeStrings makes multi-valued string attribute
func fakeStrings(name string, tag goipp.Tag, strs ...string) goipp.Attribute {
	attr := goipp.Attribute{Name: name}
	for _, s := range strs {
		attr.Values.Add(tag, goipp.String(s))
	}
	return attr
}

// fakeInts makes multi-valued integer attribute
func fakeInts(name string, tag goipp.Tag, ints ...int) goipp.Attribute {
	attr := goipp.Attribute{Name: name}
	for _, v := range ints {
		attr.Values.Add(tag, goipp.Integer(v))
	}
	return attr
}

// fakeMediaCol makes media-col collection value
func fakeMediaCol(name string, x, y int, source string) goipp.Collection {
	size := goipp.Collection{
		goipp.MakeAttribute("x-dimension", goipp.TagInteger, goipp.Integer(x)),
		goipp.MakeAttribute("y-dimension", goipp.TagInteger, goipp.Integer(y)),
	}

	col := goipp.Collection{
		goipp.MakeAttribute("media-size-name", goipp.TagKeyword, goipp.String(name)),
		goipp.MakeAttribute("media-size", goipp.TagBeginCollection, size),
	}

	if source != "" {
		col = append(col, goipp.MakeAttribute("media-source",
			goipp.TagKeyword, goipp.String(source)))
	}

	return col
}

// fakePrinterAttrs returns attributes of the fake printer:
// idle, two markers at 85% and 40%, PDF and JPEG formats,
// A4 and 4x6 media, with 4x6 loaded into the photo tray
func fakePrinterAttrs() goipp.Attributes {
	var attrs goipp.Attributes

	attrs.Add(goipp.MakeAttribute("printer-state", goipp.TagEnum,
		goipp.Integer(PrinterIdle)))
	attrs.Add(fakeStrings("printer-state-reasons", goipp.TagKeyword, "none"))
	attrs.Add(goipp.MakeAttribute("printer-name", goipp.TagName,
		goipp.String("Fake Printer")))
	attrs.Add(goipp.MakeAttribute("printer-make-and-model", goipp.TagText,
		goipp.String("Fake Printer 1000")))
	attrs.Add(goipp.MakeAttribute("printer-uuid", goipp.TagURI,
		goipp.String("urn:uuid:4509a320-00a0-008f-00b6-002507510eca")))
	attrs.Add(fakeStrings("document-format-supported", goipp.TagMimeType,
		"application/octet-stream", "application/pdf", "image/jpeg"))
	attrs.Add(fakeInts("operations-supported", goipp.TagEnum,
		int(goipp.OpPrintJob), int(goipp.OpCreateJob),
		int(goipp.OpSendDocument), int(goipp.OpGetJobAttributes),
		int(goipp.OpGetJobs), int(goipp.OpGetPrinterAttributes)))
	attrs.Add(fakeStrings("marker-names", goipp.TagName,
		"Black Toner", "Cyan Toner"))
	attrs.Add(fakeStrings("marker-colors", goipp.TagName,
		"#000000", "#00FFFF"))
	attrs.Add(fakeStrings("marker-types", goipp.TagKeyword,
		"toner", "toner"))
	attrs.Add(fakeInts("marker-levels", goipp.TagInteger, 85, 40))
	attrs.Add(fakeInts("marker-low-levels", goipp.TagInteger, 10, 10))
	attrs.Add(fakeInts("marker-high-levels", goipp.TagInteger, 100, 100))

	db := goipp.Attribute{Name: "media-col-database"}
	db.Values.Add(goipp.TagBeginCollection,
		fakeMediaCol("iso_a4_210x297mm", 21000, 29700, ""))
	db.Values.Add(goipp.TagBeginCollection,
		fakeMediaCol("na_index-4x6_4x6in", 10160, 15240, ""))
	attrs.Add(db)

	ready := goipp.Attribute{Name: "media-col-ready"}
	ready.Values.Add(goipp.TagBeginCollection,
		fakeMediaCol("na_index-4x6_4x6in", 10160, 15240, "photo"))
	ready.Values.Add(goipp.TagBeginCollection,
		fakeMediaCol("iso_a4_210x297mm", 21000, 29700, "main"))
	ready.Values.Add(goipp.TagBeginCollection,
		fakeMediaCol("na_index-4x6_4x6in", 10160, 15240, "by-pass-tray"))
	attrs.Add(ready)

	return attrs
}

// fakeJobAttrs returns job attributes
func fakeJobAttrs(id int, state JobState) goipp.Attributes {
	var attrs goipp.Attributes
	attrs.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(id)))
	attrs.Add(goipp.MakeAttribute("job-uri", goipp.TagURI,
		goipp.String("ipp://localhost/jobs/"+goipp.Integer(id).String())))
	attrs.Add(goipp.MakeAttribute("job-state", goipp.TagEnum,
		goipp.Integer(state)))
	attrs.Add(fakeStrings("job-state-reasons", goipp.TagKeyword, "none"))
	attrs.Add(goipp.MakeAttribute("job-name", goipp.TagName,
		goipp.String("job"+goipp.Integer(id).String())))
	return attrs
}

// fakeJobRequestID returns job-id of the job request
func fakeJobRequestID(rq *fakeRequest) int {
	for _, attr := range rq.Msg.Operation {
		if attr.Name == "job-id" && len(attr.Values) > 0 {
			if v, ok := attr.Values[0].V.(goipp.Integer); ok {
				return int(v)
			}
		}
	}
	return 0
}

// handlePrinterAttrs installs Get-Printer-Attributes handler,
// responding with fakePrinterAttrs
func (p *fakePrinter) handlePrinterAttrs() {
	p.Handle(goipp.OpGetPrinterAttributes, func(rq *fakeRequest) *goipp.Message {
		rsp := fakeResponse(rq, goipp.StatusOk)
		rsp.Printer = fakePrinterAttrs()
		return rsp
	})
}

// fakeClock is the manually advanced clock
type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

// newFakeClock creates a new fakeClock
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns current fake time
func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance advances fake time
func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}

// newTestClient creates Client for tests. Intervals are shortened,
// so tests run fast
func newTestClient(t *testing.T, clock func() time.Time) *Client {
	conf := DefaultConfiguration()
	conf.ConnectTimeout = 2 * time.Second
	conf.ReadTimeout = 5 * time.Second
	conf.JobPollInterval = 10 * time.Millisecond
	conf.JobWaitTimeout = time.Second
	conf.EventPollInterval = 10 * time.Millisecond
	conf.EventMaxRetries = 2
	conf.SpoolDir = t.TempDir()

	c := NewClient(Options{Conf: conf, Clock: clock})
	t.Cleanup(c.Close)

	return c
}
