/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * IPP printer client
 */

package ippclient

import (
	"context"
	"crypto/tls"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
)

// Options contains Client options
type Options struct {
	Conf      *Configuration   // Configuration, nil for defaults
	Log       *Logger          // Logger, nil to discard logs
	TLSConfig *tls.Config      // TLS configuration for ipps://
	Clock     func() time.Time // Clock, nil for time.Now
}

// Client is the IPP printer client. Each operation is a single
// explicit request/response round trip. The only state kept
// between calls is the per-printer snapshot of attributes,
// replaced as a whole on each successful fetch.
//
// Client is safe for concurrent use
type Client struct {
	conf      *Configuration // Configuration
	log       *Logger        // Logger
	transport *Transport     // IPP transport
	clock     func() time.Time
	snapshots sync.Map // Printer URI -> *PrinterDescriptor
}

// WhichJobs selects jobs, returned by GetJobs
type WhichJobs int

// WhichJobs values
const (
	JobsAll WhichJobs = iota
	JobsCompleted
	JobsNotCompleted
)

// String returns WhichJobs as which-jobs keyword
func (which WhichJobs) String() string {
	switch which {
	case JobsCompleted:
		return "completed"
	case JobsNotCompleted:
		return "not-completed"
	}
	return "all"
}

// ParseWhichJobs parses which-jobs keyword
func ParseWhichJobs(s string) (WhichJobs, error) {
	switch s {
	case "all", "":
		return JobsAll, nil
	case "completed":
		return JobsCompleted, nil
	case "not-completed", "notcompleted", "not_completed":
		return JobsNotCompleted, nil
	}
	return JobsAll, errorf(KindUnsupported, "", "", "%q: invalid which-jobs", s)
}

// PrinterAction is the printer-level control action
type PrinterAction int

// Printer actions
const (
	PrinterPause PrinterAction = iota
	PrinterResume
	PrinterIdentify
)

// String returns PrinterAction name
func (action PrinterAction) String() string {
	switch action {
	case PrinterPause:
		return "pause"
	case PrinterResume:
		return "resume"
	case PrinterIdentify:
		return "identify"
	}
	return "unknown"
}

// op returns IPP operation, implementing the action
func (action PrinterAction) op() goipp.Op {
	switch action {
	case PrinterPause:
		return goipp.OpPausePrinter
	case PrinterResume:
		return goipp.OpResumePrinter
	}
	return goipp.OpIdentifyPrinter
}

// printerAttrsRequested is the default value of
// requested-attributes for Get-Printer-Attributes.
// "all" doesn't include media-col-database
var printerAttrsRequested = []string{
	"all",
	"media-col-database",
}

// jobAttrsRequested is requested-attributes for
// Get-Jobs and Get-Job-Attributes
var jobAttrsRequested = []string{
	"job-id",
	"job-uri",
	"job-name",
	"job-state",
	"job-state-reasons",
	"job-state-message",
	"job-originating-user-name",
	"job-printer-uri",
	"number-of-documents",
	"time-at-creation",
	"time-at-processing",
	"time-at-completed",
	"job-impressions-completed",
}

// NewClient creates a new Client
func NewClient(opt Options) *Client {
	c := &Client{
		conf:  opt.Conf,
		log:   opt.Log,
		clock: opt.Clock,
	}

	if c.conf == nil {
		c.conf = DefaultConfiguration()
	}

	if c.log == nil {
		c.log = nopLogger
	}

	if c.clock == nil {
		c.clock = time.Now
	}

	c.transport = NewTransport(c.conf, c.log, opt.TLSConfig)
	return c
}

// Close releases resources, held by Client
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Conf returns Client configuration
func (c *Client) Conf() *Configuration {
	return c.conf
}

// Snapshot returns the most recent PrinterDescriptor, fetched
// by GetAttributes. It never performs network I/O
func (c *Client) Snapshot(uri string) (*PrinterDescriptor, bool) {
	v, ok := c.snapshots.Load(uri)
	if !ok {
		return nil, false
	}
	return v.(*PrinterDescriptor), true
}

// MediaSnapshot returns the printer snapshot for media queries.
// The snapshot is fetched if it doesn't exist yet, or if refresh
// is requested
func (c *Client) MediaSnapshot(ctx context.Context, uri string,
	refresh bool) (*PrinterDescriptor, error) {

	if !refresh {
		if desc, ok := c.Snapshot(uri); ok {
			return desc, nil
		}
	}

	return c.GetAttributes(ctx, uri)
}

// GetAttributes issues Get-Printer-Attributes and returns the new
// printer snapshot. If requested is empty, all attributes are
// requested.
//
// Unreachable printer reported as KindNotFound, printer that
// doesn't implement the operation as KindUnsupported
func (c *Client) GetAttributes(ctx context.Context, uri string,
	requested ...string) (*PrinterDescriptor, error) {

	if len(requested) == 0 {
		requested = printerAttrsRequested
	}

	op := c.operationGroup(uri)
	op.Add(makeStrings("requested-attributes", TagKeyword, requested))

	rsp, err := c.do(ctx, uri, goipp.OpGetPrinterAttributes, nil, op)

	var e *Error
	switch {
	case err == nil:
	case errors.As(err, &e) && e.Status == goipp.StatusErrorBadRequest:
		return nil, &Error{Kind: KindUnsupported, Op: e.Op, URI: uri,
			Status: e.Status, Err: e.Err}
	case errors.As(err, &e) && printerUnreachable(e):
		return nil, &Error{Kind: KindNotFound, Op: e.Op, URI: uri,
			HTTPStatus: e.HTTPStatus, Err: e}
	default:
		return nil, err
	}

	grp, _ := rsp.Group(GroupPrinter)
	desc := NewPrinterDescriptor(uri, grp, c.clock())
	c.snapshots.Store(uri, desc)

	c.log.Debug(' ', "%s: printer-state=%s", uri, desc.State())

	return desc, nil
}

// GetMarkers fetches printer attributes and returns markers.
// There is no separate wire operation for markers
func (c *Client) GetMarkers(ctx context.Context, uri string) ([]Marker, error) {
	desc, err := c.GetAttributes(ctx, uri, "printer-state",
		"marker-names", "marker-colors", "marker-types",
		"marker-levels", "marker-low-levels", "marker-high-levels")
	if err != nil {
		return nil, err
	}

	return Markers(desc), nil
}

// GetJobs issues Get-Jobs. If no jobs match, empty slice is returned
func (c *Client) GetJobs(ctx context.Context, uri string,
	which WhichJobs) ([]*Job, error) {

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("which-jobs", TagKeyword, String(which.String())))
	op.Add(makeStrings("requested-attributes", TagKeyword, jobAttrsRequested))

	rsp, err := c.do(ctx, uri, goipp.OpGetJobs, nil, op)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []*Job{}, nil
		}
		return nil, err
	}

	jobs := []*Job{}
	for _, grp := range rsp.GroupsOf(GroupJob) {
		job := c.newJob(uri, grp)

		state := job.State()
		switch {
		case which == JobsCompleted && !state.Terminated(),
			which == JobsNotCompleted && state.Terminated():
			c.log.Debug('!', "%s: job %d in state %s doesn't match %s filter",
				uri, job.ID(), state, which)
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

// GetJob issues Get-Job-Attributes. Unknown job id reported
// as KindNotFound
func (c *Client) GetJob(ctx context.Context, uri string, id int) (*Job, error) {
	if id < 1 || id > math.MaxInt32 {
		return nil, errorf(KindNotFound, goipp.OpGetJobAttributes.String(),
			uri, "%d: invalid job-id", id)
	}

	grp, err := c.getJobAttributes(ctx, uri, id)
	if err != nil {
		return nil, err
	}

	return c.newJob(uri, grp), nil
}

// getJobAttributes issues Get-Job-Attributes and returns the job group
func (c *Client) getJobAttributes(ctx context.Context, uri string,
	id int) (AttributeGroup, error) {

	op := c.jobOperationGroup(uri, id)
	op.Add(makeStrings("requested-attributes", TagKeyword, jobAttrsRequested))

	rsp, err := c.do(ctx, uri, goipp.OpGetJobAttributes, nil, op)
	if err != nil {
		return AttributeGroup{}, err
	}

	grp, ok := rsp.Group(GroupJob)
	if !ok {
		return AttributeGroup{}, errorf(KindDecode,
			goipp.OpGetJobAttributes.String(), uri, "job attributes missed")
	}

	return grp, nil
}

// CreateJob issues Create-Job. Documents are added to the
// created job by SendDocument
func (c *Client) CreateJob(ctx context.Context, uri, jobName string,
	attrs ...Attribute) (*Job, error) {

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("job-name", TagName, String(jobName)))

	rsp, err := c.do(ctx, uri, goipp.OpCreateJob, nil, op, jobTemplate(attrs))
	if err != nil {
		return nil, err
	}

	return c.jobFromResponse(uri, goipp.OpCreateJob, rsp)
}

// SendDocument issues Send-Document. The document marked as
// last closes the job for new documents; any further attempt
// to send the last document of the same job fails with
// KindInvalidTransition without network I/O
func (c *Client) SendDocument(ctx context.Context, job *Job,
	doc *Document, last bool) error {

	opname := goipp.OpSendDocument.String()
	if !job.beginSend(last) {
		return errorf(KindInvalidTransition, opname, job.URI(),
			"last document already sent")
	}

	op := c.jobOperationGroup(job.PrinterURI(), job.ID())
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	if doc.Name != "" {
		op.Add(MakeAttr("document-name", TagName, String(doc.Name)))
	}
	op.Add(MakeAttr("document-format", TagMimeType, String(doc.format())))
	op.Add(MakeAttr("last-document", TagBoolean, Boolean(last)))

	rsp, err := c.do(ctx, job.PrinterURI(), goipp.OpSendDocument, doc, op)
	job.endSend(last, err == nil)

	if err != nil {
		return err
	}

	if grp, ok := rsp.Group(GroupJob); ok {
		job.update(grp, c.clock())
	}

	return nil
}

// PrintJob issues Print-Job. Before sending the document, the
// document format is checked against document-format-supported
// of the printer snapshot (fetched, if not available), and
// unsupported format fails with KindUnsupported
func (c *Client) PrintJob(ctx context.Context, uri, jobName string,
	doc *Document, attrs ...Attribute) (*Job, error) {

	opname := goipp.OpPrintJob.String()
	format := doc.format()

	if !c.conf.Quirks.MatchByURI(uri).GetIgnoreDocumentFormat() {
		desc, err := c.MediaSnapshot(ctx, uri, false)
		if err != nil {
			return nil, err
		}

		if !desc.SupportsFormat(format) {
			return nil, &Error{
				Kind:   KindUnsupported,
				Op:     opname,
				URI:    uri,
				Status: goipp.StatusErrorDocumentFormatNotSupported,
				Err:    errors.New(format + ": document format not supported"),
			}
		}
	}

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("job-name", TagName, String(jobName)))
	if doc.Name != "" {
		op.Add(MakeAttr("document-name", TagName, String(doc.Name)))
	}
	op.Add(MakeAttr("document-format", TagMimeType, String(format)))

	rsp, err := c.do(ctx, uri, goipp.OpPrintJob, doc, op, jobTemplate(attrs))
	if err != nil {
		return nil, err
	}

	return c.jobFromResponse(uri, goipp.OpPrintJob, rsp)
}

// ValidateJob issues Validate-Job, to check job attributes
// before submission
func (c *Client) ValidateJob(ctx context.Context, uri, jobName, format string,
	attrs ...Attribute) error {

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("job-name", TagName, String(jobName)))
	if format != "" {
		op.Add(MakeAttr("document-format", TagMimeType, String(format)))
	}

	_, err := c.do(ctx, uri, goipp.OpValidateJob, nil, op, jobTemplate(attrs))
	return err
}

// ControlPrinter issues Pause-Printer, Resume-Printer or
// Identify-Printer. Server response is authoritative
func (c *Client) ControlPrinter(ctx context.Context, uri string,
	action PrinterAction) error {

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))

	_, err := c.do(ctx, uri, action.op(), nil, op)
	if err == nil {
		c.log.Info(' ', "%s: %s: OK", uri, action)
	}

	return err
}

// MaxLease is the longest subscription lease, representable
// by notify-lease-duration
const MaxLease = math.MaxInt32 * time.Second

// leaseSeconds converts lease into notify-lease-duration value
func leaseSeconds(opname, uri string, lease time.Duration) (Integer, error) {
	if lease < 0 || lease > MaxLease {
		return 0, errorf(KindUnsupported, opname, uri,
			"%s: lease out of range", lease)
	}
	return Integer(lease / time.Second), nil
}

// CreateSubscription issues Create-Printer-Subscriptions with the
// ippget pull method. The lease is a hint; the lease granted by
// the printer is authoritative. If no events are specified,
// "all" events are requested
func (c *Client) CreateSubscription(ctx context.Context, uri string,
	lease time.Duration, events ...string) (Subscription, error) {

	opname := goipp.OpCreatePrinterSubscriptions.String()

	if len(events) == 0 {
		events = []string{"all"}
	}

	op := c.operationGroup(uri)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))

	sub := AttributeGroup{Tag: GroupSubscription}
	sub.Add(MakeAttr("notify-pull-method", TagKeyword, String("ippget")))
	sub.Add(makeStrings("notify-events", TagKeyword, events))
	secs, err := leaseSeconds(opname, uri, lease)
	if err != nil {
		return Subscription{}, err
	}
	sub.Add(MakeAttr("notify-lease-duration", TagInteger, secs))

	rsp, err := c.do(ctx, uri, goipp.OpCreatePrinterSubscriptions, nil, op, sub)
	if err != nil {
		return Subscription{}, err
	}

	grp, _ := rsp.Group(GroupSubscription)
	id, ok := grp.Int("notify-subscription-id")
	if !ok {
		return Subscription{}, errorf(KindDecode, opname, uri,
			"notify-subscription-id missed")
	}

	s := Subscription{ID: id, PrinterURI: uri}
	s.setLease(grp, lease, c.clock())

	c.log.Debug(' ', "%s: subscription %d, lease %s", uri, s.ID, s.Lease)

	return s, nil
}

// RenewSubscription issues Renew-Subscription and returns
// the renewed Subscription
func (c *Client) RenewSubscription(ctx context.Context, sub Subscription,
	lease time.Duration) (Subscription, error) {

	op := c.operationGroup(sub.PrinterURI)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("notify-subscription-id", TagInteger, Integer(sub.ID)))

	secs, err := leaseSeconds(goipp.OpRenewSubscription.String(),
		sub.PrinterURI, lease)
	if err != nil {
		return sub, err
	}

	grp := AttributeGroup{Tag: GroupSubscription}
	grp.Add(MakeAttr("notify-lease-duration", TagInteger, secs))

	rsp, err := c.do(ctx, sub.PrinterURI, goipp.OpRenewSubscription, nil, op, grp)
	if err != nil {
		return sub, err
	}

	// Granted lease may be returned either in the
	// operation or in the subscription group
	granted, ok := rsp.Group(GroupSubscription)
	if !ok {
		granted, _ = rsp.Group(GroupOperation)
	}

	sub.setLease(granted, lease, c.clock())
	return sub, nil
}

// CancelSubscription issues Cancel-Subscription
func (c *Client) CancelSubscription(ctx context.Context, sub Subscription) error {
	op := c.operationGroup(sub.PrinterURI)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("notify-subscription-id", TagInteger, Integer(sub.ID)))

	_, err := c.do(ctx, sub.PrinterURI, goipp.OpCancelSubscription, nil, op)
	return err
}

// do performs IPP request and checks response status.
// Non-successful status is converted into *Error
func (c *Client) do(ctx context.Context, uri string, op goipp.Op,
	document *Document, groups ...AttributeGroup) (*Message, error) {

	// Drop empty optional groups
	grps := make([]AttributeGroup, 0, len(groups))
	for _, g := range groups {
		if g.Tag != 0 {
			grps = append(grps, g)
		}
	}

	rsp, err := c.transport.Send(ctx, uri, op, grps, document)
	if err != nil {
		c.log.Error('!', "%s: %s", uri, err)
		return nil, err
	}

	status := rsp.Status()
	if !statusSuccessful(status) {
		grp, _ := rsp.Group(GroupOperation)
		err := statusError(op.String(), uri, status,
			grp.StringValue("status-message"))
		c.log.Error('!', "%s: %s", uri, err)
		return nil, err
	}

	return rsp, nil
}

// operationGroup creates operation attributes group, with
// attributes, common for all requests
func (c *Client) operationGroup(uri string) AttributeGroup {
	op := AttributeGroup{Tag: GroupOperation}
	op.Add(MakeAttr("attributes-charset", TagCharset, String(ippCharset)))
	op.Add(MakeAttr("attributes-natural-language", TagLanguage, String(ippLanguage)))
	op.Add(MakeAttr("printer-uri", TagURI, String(uri)))
	return op
}

// jobOperationGroup creates operation attributes group
// for job operations
func (c *Client) jobOperationGroup(uri string, id int) AttributeGroup {
	op := c.operationGroup(uri)
	op.Add(MakeAttr("job-id", TagInteger, Integer(id)))
	return op
}

// jobFromResponse creates Job from Create-Job or Print-Job response
func (c *Client) jobFromResponse(uri string, op goipp.Op,
	rsp *Message) (*Job, error) {

	grp, _ := rsp.Group(GroupJob)
	if _, ok := grp.Int("job-id"); !ok {
		return nil, errorf(KindDecode, op.String(), uri, "job-id missed")
	}

	job := c.newJob(uri, grp)
	c.log.Info(' ', "%s: job %d created, state %s", uri, job.ID(), job.State())

	return job, nil
}

// jobTemplate creates job attributes group from template
// attributes. It returns empty group, if there are no attributes
func jobTemplate(attrs []Attribute) AttributeGroup {
	if len(attrs) == 0 {
		return AttributeGroup{}
	}
	return AttributeGroup{Tag: GroupJob, Attrs: attrs}
}

// printerUnreachable tells if transport error means that
// printer cannot be reached
func printerUnreachable(e *Error) bool {
	if e.Kind != KindTransport {
		return false
	}

	switch e.Transport {
	case TransportProtocol:
		return e.HTTPStatus == 404
	case TransportNone:
		return !errors.Is(e.Err, context.Canceled)
	}

	return true
}

// makeStrings creates multi-valued attribute of string kind.
// strs must not be empty
func makeStrings(name string, tag ValueTag, strs []string) Attribute {
	vals := make([]Value, len(strs))
	for i, s := range strs {
		vals[i] = String(s)
	}
	return MakeAttr(name, tag, vals[0], vals[1:]...)
}
