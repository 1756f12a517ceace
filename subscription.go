/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Event subscriptions and notifications polling
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

// Subscription represents printer-side event subscription
type Subscription struct {
	ID           int           `yaml:"id"`
	PrinterURI   string        `yaml:"printer-uri"`
	Lease        time.Duration `yaml:"lease"`        // Granted lease, 0 if infinite
	LeaseExpiry  time.Time     `yaml:"lease-expiry"` // Zero if infinite
	LastEventSeq int           `yaml:"last-event-seq"`
}

// setLease sets the lease, granted by printer. The granted
// lease is taken from notify-lease-duration attribute. If
// printer doesn't report it, requested lease is assumed
func (sub *Subscription) setLease(grp AttributeGroup,
	requested time.Duration, now time.Time) {

	sub.Lease = requested
	if secs, ok := grp.Int("notify-lease-duration"); ok {
		sub.Lease = time.Duration(secs) * time.Second
	}

	sub.LeaseExpiry = time.Time{}
	if sub.Lease > 0 {
		sub.LeaseExpiry = now.Add(sub.Lease)
	}
}

// Expired tells if subscription lease is expired
func (sub Subscription) Expired(now time.Time) bool {
	return !sub.LeaseExpiry.IsZero() && !now.Before(sub.LeaseExpiry)
}

// Event represents a single event notification
type Event struct {
	SequenceNumber int            `yaml:"sequence-number"`
	SubscriptionID int            `yaml:"subscription-id"`
	Event          string         `yaml:"event"`
	Text           string         `yaml:"text,omitempty"`
	Time           time.Time      `yaml:"time"`
	PrinterState   PrinterState   `yaml:"printer-state,omitempty"`
	JobID          int            `yaml:"job-id,omitempty"`
	JobState       JobState       `yaml:"job-state,omitempty"`
	Attributes     AttributeGroup `yaml:"-"`
}

// eventFromGroup decodes Event from the event notification group
func eventFromGroup(grp AttributeGroup, now time.Time) (Event, error) {
	seq, ok := grp.Int("notify-sequence-number")
	if !ok {
		return Event{}, errors.New("notify-sequence-number missed")
	}

	evnt := Event{
		SequenceNumber: seq,
		Event:          grp.StringValue("notify-subscribed-event"),
		Text:           jobText(grp, "notify-text"),
		Time:           now,
		Attributes:     grp,
	}

	evnt.SubscriptionID, _ = grp.Int("notify-subscription-id")
	evnt.JobID, _ = grp.Int("notify-job-id")

	if state, ok := grp.Int("printer-state"); ok {
		evnt.PrinterState = PrinterState(state)
	}

	if state, ok := grp.Int("job-state"); ok {
		evnt.JobState = JobState(state)
	}

	if attr, ok := grp.Get("printer-current-time"); ok && len(attr.Values) > 0 {
		if t, ok := attr.Values[0].Value.(DateTime); ok {
			evnt.Time = t.Time
		}
	}

	return evnt, nil
}

// PollerState represents the Poller state
type PollerState int

// Poller states
const (
	PollerCreated   PollerState = iota // Created, not running yet
	PollerPolling                      // Run is active
	PollerCancelled                    // Cancelled by caller or by handler
	PollerExpired                      // Subscription lease expired
	PollerFailed                       // Stopped due to error
)

// String returns PollerState name
func (s PollerState) String() string {
	switch s {
	case PollerCreated:
		return "created"
	case PollerPolling:
		return "polling"
	case PollerCancelled:
		return "cancelled"
	case PollerExpired:
		return "expired"
	case PollerFailed:
		return "failed"
	}

	return fmt.Sprintf("unknown (%d)", int(s))
}

// Poller polls printer for event notifications of the
// subscription, using the Get-Notifications operation
type Poller struct {
	client *Client            // Client that owns the poller
	lock   sync.Mutex         // Access lock
	sub    Subscription       // The subscription
	state  PollerState        // Current state
	cancel context.CancelFunc // Cancels active Run
	done   chan struct{}      // Closed when Run returns
}

// NewPoller creates a new Poller for the subscription
func (c *Client) NewPoller(sub Subscription) *Poller {
	return &Poller{
		client: c,
		sub:    sub,
		state:  PollerCreated,
		done:   make(chan struct{}),
	}
}

// Subscription returns the current state of subscription
func (p *Poller) Subscription() Subscription {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.sub
}

// State returns the current Poller state
func (p *Poller) State() PollerState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// Done returns channel, closed when Run returns
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Run polls for notifications and delivers events to the handler,
// one by one, in the order printer returns them. Events already
// delivered are never delivered again.
//
// Polling stops, when:
//   - ctx is cancelled or Cancel is called (returns nil)
//   - handler returns false (returns nil)
//   - subscription lease expires (returns KindTimeout error)
//   - too many consecutive requests fail (returns last error)
//
// Run may be called only once
func (p *Poller) Run(ctx context.Context, handler func(Event) bool) error {
	p.lock.Lock()
	if p.state != PollerCreated {
		state := p.state
		p.lock.Unlock()
		return errorf(KindInvalidTransition, "poll", p.sub.PrinterURI,
			"poller is %s", state)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = PollerPolling
	p.lock.Unlock()

	defer close(p.done)
	defer cancel()

	state, err := p.loop(ctx, handler)
	p.setState(state)

	return err
}

// Cancel stops polling and cancels the subscription on the
// printer. No Get-Notifications request is issued after
// Cancel is called
func (p *Poller) Cancel(ctx context.Context) error {
	p.lock.Lock()
	if p.cancel != nil {
		p.cancel()
	}

	expired := p.state == PollerExpired
	if p.state == PollerCreated || p.state == PollerPolling {
		p.state = PollerCancelled
	}

	sub := p.sub
	p.lock.Unlock()

	if expired {
		return nil
	}

	err := p.client.CancelSubscription(ctx, sub)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}

	return err
}

// setState sets the final Poller state. Cancelled state,
// set by Cancel, is never overridden
func (p *Poller) setState(state PollerState) {
	p.lock.Lock()
	if p.state == PollerPolling {
		p.state = state
	}
	p.lock.Unlock()
}

// loop is the polling loop. It returns the final state
func (p *Poller) loop(ctx context.Context,
	handler func(Event) bool) (PollerState, error) {

	c := p.client
	interval := c.conf.EventPollInterval
	failures := uint(0)

	for {
		// Cancellation is checked before each round trip
		if ctx.Err() != nil {
			return PollerCancelled, nil
		}

		sub := p.Subscription()
		if sub.Expired(c.clock()) {
			return PollerExpired, errorf(KindTimeout, "poll", sub.PrinterURI,
				"subscription %d: lease expired", sub.ID)
		}

		events, next, complete, err := p.getNotifications(ctx, sub)

		switch {
		case err == nil:
			failures = 0
			if next > 0 {
				interval = next
			}

		case ctx.Err() != nil:
			return PollerCancelled, nil

		case errors.Is(err, ErrNotFound):
			return PollerExpired, errorf(KindTimeout, "poll", sub.PrinterURI,
				"subscription %d: gone", sub.ID)

		default:
			failures++
			if failures > c.conf.EventMaxRetries {
				return PollerFailed, err
			}
		}

		// Deliver events in server order
		for _, evnt := range events {
			p.lock.Lock()
			if evnt.SequenceNumber <= p.sub.LastEventSeq {
				p.lock.Unlock()
				continue
			}
			p.sub.LastEventSeq = evnt.SequenceNumber
			p.lock.Unlock()

			if !handler(evnt) {
				return PollerCancelled, nil
			}
		}

		if complete {
			return PollerExpired, errorf(KindTimeout, "poll", sub.PrinterURI,
				"subscription %d: events complete", sub.ID)
		}

		// Sleep till the next round trip
		delay := interval
		if failures > 0 {
			delay = pollerBackoff(interval, failures)
			c.log.Debug('!', "%s: subscription %d: retry %d in %s: %s",
				sub.PrinterURI, sub.ID, failures, delay, err)
		}

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return PollerCancelled, nil
		case <-tmr.C:
		}
	}
}

// getNotifications performs a single Get-Notifications round trip.
// It returns received events, the suggested interval before the
// next request (0 if not suggested), and the events-complete flag
func (p *Poller) getNotifications(ctx context.Context, sub Subscription) (
	events []Event, next time.Duration, complete bool, err error) {

	c := p.client

	op := c.operationGroup(sub.PrinterURI)
	op.Add(MakeAttr("requesting-user-name", TagName, String(c.conf.UserName)))
	op.Add(MakeAttr("notify-subscription-ids", TagInteger, Integer(sub.ID)))
	op.Add(MakeAttr("notify-sequence-numbers", TagInteger,
		Integer(sub.LastEventSeq+1)))
	op.Add(MakeAttr("notify-wait", TagBoolean, Boolean(false)))

	rsp, err := c.do(ctx, sub.PrinterURI, goipp.OpGetNotifications, nil, op)
	if err != nil {
		return nil, 0, false, err
	}

	grp, _ := rsp.Group(GroupOperation)
	if secs, ok := grp.Int("notify-get-interval"); ok && secs > 0 {
		next = time.Duration(secs) * time.Second
	}

	now := c.clock()
	for _, grp := range rsp.GroupsOf(GroupEventNotification) {
		evnt, err := eventFromGroup(grp, now)
		if err != nil {
			return nil, 0, false, newError(KindDecode,
				goipp.OpGetNotifications.String(), sub.PrinterURI, err)
		}

		if evnt.SubscriptionID != 0 && evnt.SubscriptionID != sub.ID {
			continue
		}

		events = append(events, evnt)
	}

	complete = rsp.Status() == goipp.StatusOkEventsComplete
	return events, next, complete, nil
}

// pollerBackoff computes delay before the retry of failed
// request: interval, doubled for each consecutive failure,
// bounded by EventRetryMaxDelay
func pollerBackoff(interval time.Duration, failures uint) time.Duration {
	delay := interval
	for i := uint(1); i < failures && delay < EventRetryMaxDelay; i++ {
		delay *= 2
	}

	if delay > EventRetryMaxDelay {
		delay = EventRetryMaxDelay
	}

	return delay
}
