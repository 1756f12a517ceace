/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Job handle
 */

package ippclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
)

// JobState represents job-state attribute value
type JobState int

// Job states, RFC 8011, 5.3.7
const (
	JobUnknown           JobState = 0
	JobPending           JobState = 3
	JobPendingHeld       JobState = 4
	JobProcessing        JobState = 5
	JobProcessingStopped JobState = 6
	JobCanceled          JobState = 7
	JobAborted           JobState = 8
	JobCompleted         JobState = 9
)

// String returns JobState as string
func (s JobState) String() string {
	switch s {
	case JobUnknown:
		return "unknown"
	case JobPending:
		return "pending"
	case JobPendingHeld:
		return "pending-held"
	case JobProcessing:
		return "processing"
	case JobProcessingStopped:
		return "processing-stopped"
	case JobCanceled:
		return "canceled"
	case JobAborted:
		return "aborted"
	case JobCompleted:
		return "completed"
	}

	return fmt.Sprintf("job-state(%d)", int(s))
}

// MarshalYAML implements yaml.Marshaler interface
func (s JobState) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Terminated tells if job is in one of terminal states:
// canceled, aborted or completed
func (s JobState) Terminated() bool {
	return s == JobCanceled || s == JobAborted || s == JobCompleted
}

// JobInfo is the immutable snapshot of job attributes
type JobInfo struct {
	ID           int            `yaml:"id"`
	URI          string         `yaml:"uri,omitempty"`
	PrinterURI   string         `yaml:"printer-uri"`
	Name         string         `yaml:"name,omitempty"`
	User         string         `yaml:"user,omitempty"`
	State        JobState       `yaml:"state"`
	StateReasons []string       `yaml:"state-reasons,omitempty"`
	StateMessage string         `yaml:"state-message,omitempty"`
	Documents    int            `yaml:"documents,omitempty"`
	Attributes   AttributeGroup `yaml:"-"`
}

// JobTransition is the entry of the job state transition log
type JobTransition struct {
	Time time.Time `yaml:"time"`
	From JobState  `yaml:"from"`
	To   JobState  `yaml:"to"`
}

// Job is the local handle of the printer-owned job. Its state is
// a possibly stale cache, updated only from printer responses.
//
// Job is safe for concurrent use
type Job struct {
	client   *Client         // Client that owns the job
	lock     sync.Mutex      // Access lock
	info     JobInfo         // Current snapshot
	history  []JobTransition // State transitions log
	lastSent bool            // Last document sent or being sent
}

// JobDocument is the document, retrieved from the job
type JobDocument struct {
	Number int    // Document number, 1-based
	Name   string // document-name, if known
	Format string // document-format
	Data   []byte // Document content
}

// newJob creates a new Job from the job attributes group
func (c *Client) newJob(printerURI string, grp AttributeGroup) *Job {
	job := &Job{client: c}
	job.info = jobInfoFromGroup(printerURI, grp, JobInfo{})
	job.history = []JobTransition{{
		Time: c.clock(),
		From: JobUnknown,
		To:   job.info.State,
	}}
	return job
}

// jobInfoFromGroup creates JobInfo from job attributes group.
// Attributes, missed in the group, are taken from prev
func jobInfoFromGroup(printerURI string, grp AttributeGroup,
	prev JobInfo) JobInfo {

	info := prev
	info.PrinterURI = printerURI
	info.Attributes = grp

	if id, ok := grp.Int("job-id"); ok {
		info.ID = id
	}

	if s := grp.StringValue("job-uri"); s != "" {
		info.URI = s
	}

	if s := jobText(grp, "job-name"); s != "" {
		info.Name = s
	}

	if s := jobText(grp, "job-originating-user-name"); s != "" {
		info.User = s
	}

	if state, ok := grp.Int("job-state"); ok {
		info.State = JobState(state)
	}

	if _, ok := grp.Get("job-state-reasons"); ok {
		info.StateReasons = grp.Strings("job-state-reasons")
	}

	if _, ok := grp.Get("job-state-message"); ok {
		info.StateMessage = jobText(grp, "job-state-message")
	}

	if n, ok := grp.Int("number-of-documents"); ok {
		info.Documents = n
	}

	return info
}

// jobText returns text or name attribute, with or without language
func jobText(grp AttributeGroup, name string) string {
	attr, ok := grp.Get(name)
	if !ok || len(attr.Values) == 0 {
		return ""
	}

	switch v := attr.Values[0].Value.(type) {
	case String:
		return string(v)
	case TextWithLang:
		return v.Text
	}

	return ""
}

// Info returns the current job snapshot
func (job *Job) Info() JobInfo {
	job.lock.Lock()
	defer job.lock.Unlock()
	return job.info
}

// ID returns job-id
func (job *Job) ID() int {
	return job.Info().ID
}

// URI returns job-uri. If printer didn't report job-uri,
// printer URI is returned
func (job *Job) URI() string {
	info := job.Info()
	if info.URI != "" {
		return info.URI
	}
	return info.PrinterURI
}

// PrinterURI returns URI of the printer that owns the job
func (job *Job) PrinterURI() string {
	return job.Info().PrinterURI
}

// State returns the last known job state
func (job *Job) State() JobState {
	return job.Info().State
}

// History returns the log of job state transitions, observed
// by this handle
func (job *Job) History() []JobTransition {
	job.lock.Lock()
	defer job.lock.Unlock()
	return append([]JobTransition(nil), job.history...)
}

// update replaces job snapshot with new attributes and
// records state transition, if any
func (job *Job) update(grp AttributeGroup, now time.Time) {
	job.lock.Lock()
	defer job.lock.Unlock()

	prev := job.info.State
	job.info = jobInfoFromGroup(job.info.PrinterURI, grp, job.info)

	if job.info.State != prev {
		job.history = append(job.history, JobTransition{
			Time: now,
			From: prev,
			To:   job.info.State,
		})
	}
}

// beginSend marks the job as sending the last document.
// It returns false, if the last document was already sent
func (job *Job) beginSend(last bool) bool {
	job.lock.Lock()
	defer job.lock.Unlock()

	if job.lastSent {
		return false
	}

	if last {
		job.lastSent = true
	}

	return true
}

// endSend completes document sending. If the last document
// was not sent successfully, another attempt is allowed
func (job *Job) endSend(last, ok bool) {
	if last && !ok {
		job.lock.Lock()
		job.lastSent = false
		job.lock.Unlock()
	}
}

// Refresh re-fetches job attributes from the printer. On
// failure, the previous snapshot is retained
func (job *Job) Refresh(ctx context.Context) error {
	info := job.Info()
	grp, err := job.client.getJobAttributes(ctx, info.PrinterURI, info.ID)
	if err != nil {
		return err
	}

	job.update(grp, job.client.clock())
	return nil
}

// Hold issues Hold-Job
func (job *Job) Hold(ctx context.Context) error {
	return job.action(ctx, goipp.OpHoldJob)
}

// Release issues Release-Job
func (job *Job) Release(ctx context.Context) error {
	return job.action(ctx, goipp.OpReleaseJob)
}

// Cancel issues Cancel-Job. Cancelling a job in a terminal state
// is rejected by the printer and reported as KindInvalidTransition
func (job *Job) Cancel(ctx context.Context) error {
	return job.action(ctx, goipp.OpCancelJob)
}

// action performs job action and refreshes job attributes
// on success
func (job *Job) action(ctx context.Context, op goipp.Op) error {
	c := job.client
	info := job.Info()

	rq := c.jobOperationGroup(info.PrinterURI, info.ID)
	rq.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))

	_, err := c.do(ctx, info.PrinterURI, op, nil, rq)
	if err != nil {
		return err
	}

	c.log.Info(' ', "%s: job %d: %s: OK", info.PrinterURI, info.ID, op)

	// Action succeeded; failure to refresh only means
	// that the snapshot remains stale
	if err = job.Refresh(ctx); err != nil {
		c.log.Debug('!', "%s: job %d: refresh: %s", info.PrinterURI, info.ID, err)
	}

	return nil
}

// FetchDocuments retrieves documents of the job, using the
// CUPS-Get-Document operation. Printers that don't retain
// documents cause KindUnsupported error
func (job *Job) FetchDocuments(ctx context.Context) ([]JobDocument, error) {
	c := job.client
	opname := goipp.OpCupsGetDocument.String()

	if err := job.Refresh(ctx); err != nil {
		return nil, err
	}

	info := job.Info()
	if info.Documents < 1 {
		return nil, errorf(KindUnsupported, opname, info.PrinterURI,
			"job %d: no documents retained", info.ID)
	}

	docs := make([]JobDocument, 0, info.Documents)
	for num := 1; num <= info.Documents; num++ {
		rq := c.jobOperationGroup(info.PrinterURI, info.ID)
		rq.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
		rq.Add(MakeAttr("document-number", TagInteger, Integer(num)))

		rsp, err := c.do(ctx, info.PrinterURI, goipp.OpCupsGetDocument, nil, rq)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupported) {
				return nil, &Error{
					Kind: KindUnsupported,
					Op:   opname,
					URI:  info.PrinterURI,
					Err:  err,
				}
			}
			return nil, err
		}

		grp, _ := rsp.Group(GroupOperation)
		docs = append(docs, JobDocument{
			Number: num,
			Name:   jobText(grp, "document-name"),
			Format: grp.StringValue("document-format"),
			Data:   rsp.Data,
		})
	}

	return docs, nil
}

// WaitForTermination polls job attributes until job reaches a
// terminal state or timeout expires. Each poll is a single
// Get-Job-Attributes round trip; the first poll is issued
// immediately.
//
// Expired timeout reported as KindTimeout. So is cancellation
// of ctx, whenever it happens: before a round trip, while it is
// in progress or during sleep
func (job *Job) WaitForTermination(ctx context.Context,
	interval, timeout time.Duration) (JobState, error) {

	c := job.client
	deadline := c.clock().Add(timeout)
	info := job.Info()
	opname := "wait-for-termination"

	for {
		if err := ctx.Err(); err != nil {
			return info.State, newError(KindTimeout, opname, job.URI(), err)
		}

		if err := job.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return job.State(), newError(KindTimeout, opname,
					job.URI(), ctx.Err())
			}
			return job.State(), err
		}

		info = job.Info()
		if info.State.Terminated() {
			return info.State, nil
		}

		// Would the next poll miss the deadline?
		if c.clock().Add(interval).After(deadline) {
			return info.State, errorf(KindTimeout, opname, job.URI(),
				"job %d: still %s after %s", info.ID, info.State, timeout)
		}

		tmr := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return info.State, newError(KindTimeout, opname, job.URI(), ctx.Err())
		case <-tmr.C:
		}
	}
}
