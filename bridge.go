/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Bridge: asynchronous boundary for the application layer
 */

package ippclient

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Promise is the result of asynchronous Bridge call. It is
// settled exactly once, either resolved with a value, or
// rejected with an error
type Promise struct {
	once  sync.Once     // Settles the promise
	done  chan struct{} // Closed when settled
	value interface{}   // Resolved value
	err   error         // Rejection error
}

// newPromise creates a new unsettled Promise
func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// settle resolves or rejects the Promise. Only the first
// call has effect
func (p *Promise) settle(value interface{}, err error) {
	p.once.Do(func() {
		p.value, p.err = value, err
		close(p.done)
	})
}

// Done returns channel, closed when Promise is settled
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait waits until Promise is settled and returns its outcome.
// If ctx expires first, ctx error is returned and the Promise
// remains unsettled
func (p *Promise) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PrintOptions contains optional job template attributes,
// used by Bridge.PrintJob and Bridge.CreateJobAndSendDocument
type PrintOptions struct {
	Media  string // media keyword or paper size, "" for default
	Copies int    // copies, 0 for default
}

// attrs returns job template attributes
func (opt PrintOptions) attrs() ([]Attribute, error) {
	var attrs []Attribute

	if opt.Media != "" {
		media, err := PaperMediaKeyword(opt.Media)
		if err != nil {
			return nil, newError(KindUnsupported, "print-options", "", err)
		}
		attrs = append(attrs, MakeAttr("media", TagKeyword, String(media)))
	}

	switch {
	case opt.Copies < 0 || opt.Copies > math.MaxInt32:
		return nil, errorf(KindUnsupported, "print-options", "",
			"%d: invalid copies", opt.Copies)
	case opt.Copies > 0:
		attrs = append(attrs, MakeAttr("copies", TagInteger, Integer(opt.Copies)))
	}

	return attrs, nil
}

// PrinterAttributes is the result of Bridge.GetPrinterAttributes
type PrinterAttributes struct {
	Info       PrinterInfo       `yaml:"info"`
	Attributes map[string]string `yaml:"attributes"`
	Markers    map[string]string `yaml:"markers"` // Name -> percent or "unknown"
}

// Bridge exposes Client operations to the application layer. Each
// operation runs in its own goroutine and returns Promise, settled
// exactly once with the operation outcome.
//
// Close cancels all pending operations and event pollers
type Bridge struct {
	client  *Client              // Underlying client
	ctx     context.Context      // Cancelled by Close
	cancel  context.CancelFunc   // Cancels ctx
	lock    sync.Mutex           // Access lock
	closed  bool                 // Bridge is closed
	pollers map[*Poller]struct{} // Active event pollers
	wait    sync.WaitGroup       // Pending operations
}

// NewBridge creates a new Bridge on top of the Client
func NewBridge(client *Client) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:  client,
		ctx:     ctx,
		cancel:  cancel,
		pollers: make(map[*Poller]struct{}),
	}
}

// Close cancels all pending operations, cancels event subscriptions
// and waits until all operations are finished. Operations, started
// after Close, are rejected with ErrShutdown
func (b *Bridge) Close() {
	b.lock.Lock()
	b.closed = true
	pollers := make([]*Poller, 0, len(b.pollers))
	for p := range b.pollers {
		pollers = append(pollers, p)
	}
	b.lock.Unlock()

	// Subscriptions are cancelled on printers before the main
	// context, so Cancel-Subscription still may be sent
	ctx, cancel := context.WithTimeout(context.Background(),
		b.client.conf.ConnectTimeout)
	for _, p := range pollers {
		p.Cancel(ctx)
	}
	cancel()

	b.cancel()
	b.wait.Wait()
}

// call runs fn asynchronously and returns Promise for its outcome
func (b *Bridge) call(name, uri string,
	fn func(ctx context.Context) (interface{}, error)) *Promise {

	p := newPromise()

	b.lock.Lock()
	closed := b.closed
	if !closed {
		b.wait.Add(1)
	}
	b.lock.Unlock()

	if closed {
		p.settle(nil, errorf(KindShutdown, name, uri, "bridge is closed"))
		return p
	}

	go func() {
		defer b.wait.Done()
		defer func() {
			if v := recover(); v != nil {
				b.client.log.Error('!', "%s: %s: panic: %v", uri, name, v)
				p.settle(nil, errorf(KindInternal, name, uri, "panic: %v", v))
			}
		}()

		b.client.log.Debug(' ', "%s: %s: started", uri, name)
		v, err := fn(b.ctx)
		if err != nil {
			b.client.log.Error('!', "%s: %s: %s", uri, name, err)
		} else {
			b.client.log.Debug(' ', "%s: %s: OK", uri, name)
		}
		p.settle(v, err)
	}()

	return p
}

// GetPrinterAttributes fetches printer attributes and markers.
// Resolves to PrinterAttributes
func (b *Bridge) GetPrinterAttributes(uri string) *Promise {
	return b.call("getPrinterAttributes", uri,
		func(ctx context.Context) (interface{}, error) {
			desc, err := b.client.GetAttributes(ctx, uri)
			if err != nil {
				return nil, err
			}

			res := PrinterAttributes{
				Info:       desc.Info(),
				Attributes: make(map[string]string, len(desc.Attrs.Attrs)),
				Markers:    make(map[string]string),
			}

			for _, attr := range desc.Attrs.Attrs {
				if _, found := res.Attributes[attr.Name]; !found {
					res.Attributes[attr.Name] = attr.ValueString()
				}
			}

			for _, m := range Markers(desc) {
				level := "unknown"
				if pct, ok := m.LevelPercent(); ok {
					level = fmt.Sprintf("%d", pct)
				}
				res.Markers[m.Name] = level
			}

			return res, nil
		})
}

// GetPrinterMarkers fetches printer markers. Resolves to []Marker
func (b *Bridge) GetPrinterMarkers(uri string) *Promise {
	return b.call("getPrinterMarkers", uri,
		func(ctx context.Context) (interface{}, error) {
			return b.client.GetMarkers(ctx, uri)
		})
}

// PrintJob prints document, addressed by URL or local path, using
// the Print-Job operation. Resolves to JobInfo.
//
// Downloaded document is removed when operation completes,
// successfully or not
func (b *Bridge) PrintJob(uri, jobName, document string,
	opt PrintOptions) *Promise {

	return b.call("printJob", uri,
		func(ctx context.Context) (interface{}, error) {
			attrs, err := opt.attrs()
			if err != nil {
				return nil, err
			}

			doc, err := b.client.OpenDocument(ctx, document)
			if err != nil {
				return nil, err
			}
			defer doc.Close()

			b.client.log.Info(' ', "%s: printing %s", uri, &doc.Document)

			job, err := b.client.PrintJob(ctx, uri, jobName, &doc.Document, attrs...)
			if err != nil {
				return nil, err
			}

			return job.Info(), nil
		})
}

// CreateJobAndSendDocument prints document, using Create-Job
// followed by Send-Document, and waits for job termination.
// Resolves to JobInfo
func (b *Bridge) CreateJobAndSendDocument(uri, jobName, document string,
	opt PrintOptions) *Promise {

	return b.call("createJobAndSendDocument", uri,
		func(ctx context.Context) (interface{}, error) {
			attrs, err := opt.attrs()
			if err != nil {
				return nil, err
			}

			doc, err := b.client.OpenDocument(ctx, document)
			if err != nil {
				return nil, err
			}
			defer doc.Close()

			job, err := b.client.CreateJob(ctx, uri, jobName, attrs...)
			if err != nil {
				return nil, err
			}

			err = b.client.SendDocument(ctx, job, &doc.Document, true)
			if err != nil {
				return nil, err
			}

			conf := b.client.conf
			_, err = job.WaitForTermination(ctx,
				conf.JobPollInterval, conf.JobWaitTimeout)
			if err != nil {
				return nil, err
			}

			return job.Info(), nil
		})
}

// ListJobs lists printer jobs. Resolves to []JobInfo
func (b *Bridge) ListJobs(uri string, which WhichJobs) *Promise {
	return b.call("listJobs", uri,
		func(ctx context.Context) (interface{}, error) {
			jobs, err := b.client.GetJobs(ctx, uri, which)
			if err != nil {
				return nil, err
			}

			infos := make([]JobInfo, len(jobs))
			for i, job := range jobs {
				infos[i] = job.Info()
			}

			return infos, nil
		})
}

// GetJob fetches job attributes. Resolves to JobInfo
func (b *Bridge) GetJob(uri string, id int) *Promise {
	return b.call("getJob", uri,
		func(ctx context.Context) (interface{}, error) {
			job, err := b.client.GetJob(ctx, uri, id)
			if err != nil {
				return nil, err
			}
			return job.Info(), nil
		})
}

// JobAction performs job action: hold, release, cancel or
// fetchDocuments. Resolves to JobInfo, or, for fetchDocuments,
// to []JobDocument
func (b *Bridge) JobAction(uri string, id int, action string) *Promise {
	return b.call("jobAction", uri,
		func(ctx context.Context) (interface{}, error) {
			do, err := bridgeJobAction(action)
			if err != nil {
				return nil, err
			}

			job, err := b.client.GetJob(ctx, uri, id)
			if err != nil {
				return nil, err
			}

			if do == nil {
				return job.FetchDocuments(ctx)
			}

			if err = do(job, ctx); err != nil {
				return nil, err
			}

			return job.Info(), nil
		})
}

// bridgeJobAction returns Job method for the action name.
// For fetchDocuments, it returns nil
func bridgeJobAction(action string) (func(*Job, context.Context) error, error) {
	switch strings.ToLower(action) {
	case "hold":
		return (*Job).Hold, nil
	case "release":
		return (*Job).Release, nil
	case "cancel":
		return (*Job).Cancel, nil
	case "fetchdocuments", "fetch-documents", "cupsgetdocuments":
		return nil, nil
	}

	return nil, errorf(KindUnsupported, "jobAction", "",
		"%q: invalid job action", action)
}

// PrinterAction performs printer action: pause, resume or identify
// ("sound" is accepted as alias for identify). Resolves to string
func (b *Bridge) PrinterAction(uri, action string) *Promise {
	return b.call("printerAction", uri,
		func(ctx context.Context) (interface{}, error) {
			act, err := ParsePrinterAction(action)
			if err != nil {
				return nil, err
			}

			err = b.client.ControlPrinter(ctx, uri, act)
			if err != nil {
				return nil, err
			}

			return fmt.Sprintf("Action %s performed successfully", act), nil
		})
}

// ParsePrinterAction parses printer action name
func ParsePrinterAction(s string) (PrinterAction, error) {
	switch strings.ToLower(s) {
	case "pause":
		return PrinterPause, nil
	case "resume":
		return PrinterResume, nil
	case "identify", "sound":
		return PrinterIdentify, nil
	}

	return PrinterIdentify, errorf(KindUnsupported, "printerAction", "",
		"%q: invalid printer action", s)
}

// SubscribeToEvents creates printer event subscription with the
// lease duration in minutes, and starts polling for events in
// background. Events are delivered to the handler in order;
// polling stops when handler returns false, lease expires or
// Bridge is closed.
//
// The Promise resolves to *Poller once subscription is created
func (b *Bridge) SubscribeToEvents(uri string, leaseMinutes int,
	handler func(Event) bool) *Promise {

	return b.call("subscribeToEvents", uri,
		func(ctx context.Context) (interface{}, error) {
			if leaseMinutes < 0 ||
				int64(leaseMinutes) > int64(MaxLease/time.Minute) {
				return nil, errorf(KindUnsupported, "subscribeToEvents", uri,
					"%d: invalid lease", leaseMinutes)
			}

			lease := time.Duration(leaseMinutes) * time.Minute
			sub, err := b.client.CreateSubscription(ctx, uri, lease)
			if err != nil {
				return nil, err
			}

			poller := b.client.NewPoller(sub)

			b.lock.Lock()
			closed := b.closed
			if !closed {
				b.pollers[poller] = struct{}{}
				b.wait.Add(1)
			}
			b.lock.Unlock()

			if closed {
				poller.Cancel(context.Background())
				return nil, errorf(KindShutdown, "subscribeToEvents", uri,
					"bridge is closed")
			}

			go func() {
				defer b.wait.Done()

				err := poller.Run(b.ctx, handler)
				if err != nil {
					b.client.log.Info('!', "%s: subscription %d: %s",
						uri, sub.ID, err)
				}

				b.lock.Lock()
				delete(b.pollers, poller)
				b.lock.Unlock()
			}()

			return poller, nil
		})
}

// FindMediaBySize finds printer media of the given size.
// The printer snapshot is refreshed if requested or missed.
// Resolves to Media
func (b *Bridge) FindMediaBySize(uri, size string, refresh bool) *Promise {
	return b.mediaQuery("findMediaBySize", uri, size, refresh,
		func(desc *PrinterDescriptor, sz PaperSize) (interface{}, error) {
			return FindMediaBySize(desc, sz)
		})
}

// IsMediaSizeSupported checks if printer supports media of the
// given size. Resolves to bool
func (b *Bridge) IsMediaSizeSupported(uri, size string, refresh bool) *Promise {
	return b.mediaQuery("isMediaSizeSupported", uri, size, refresh,
		func(desc *PrinterDescriptor, sz PaperSize) (interface{}, error) {
			return IsMediaSizeSupported(desc, sz), nil
		})
}

// IsMediaSizeReady checks if media of the given size is loaded
// into the printer. Resolves to bool
func (b *Bridge) IsMediaSizeReady(uri, size string, refresh bool) *Promise {
	return b.mediaQuery("isMediaSizeReady", uri, size, refresh,
		func(desc *PrinterDescriptor, sz PaperSize) (interface{}, error) {
			return IsMediaSizeReady(desc, sz), nil
		})
}

// SourcesOfMediaSizeReady returns media sources, loaded with
// media of the given size. Resolves to []string
func (b *Bridge) SourcesOfMediaSizeReady(uri, size string, refresh bool) *Promise {
	return b.mediaQuery("sourcesOfMediaSizeReady", uri, size, refresh,
		func(desc *PrinterDescriptor, sz PaperSize) (interface{}, error) {
			return SourcesOfMediaSizeReady(desc, sz), nil
		})
}

// mediaQuery obtains printer snapshot and runs media query on it
func (b *Bridge) mediaQuery(name, uri, size string, refresh bool,
	query func(*PrinterDescriptor, PaperSize) (interface{}, error)) *Promise {

	return b.call(name, uri,
		func(ctx context.Context) (interface{}, error) {
			sz, err := ParsePaperSize(size)
			if err != nil {
				return nil, newError(KindUnsupported, name, uri, err)
			}

			desc, err := b.client.MediaSnapshot(ctx, uri, refresh)
			if err != nil {
				return nil, err
			}

			return query(desc, sz)
		})
}
