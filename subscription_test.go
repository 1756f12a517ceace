/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Subscriptions and events polling tests
 */

package ippclient

import (
	"context"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvent makes event notification group
func fakeEvent(subID, seq int, event string) goipp.Group {
	var attrs goipp.Attributes
	attrs.Add(goipp.MakeAttribute("notify-subscription-id",
		goipp.TagInteger, goipp.Integer(subID)))
	attrs.Add(goipp.MakeAttribute("notify-sequence-number",
		goipp.TagInteger, goipp.Integer(seq)))
	attrs.Add(goipp.MakeAttribute("notify-subscribed-event",
		goipp.TagKeyword, goipp.String(event)))
	attrs.Add(goipp.MakeAttribute("notify-text",
		goipp.TagText, goipp.String(event+" happened")))
	attrs.Add(goipp.MakeAttribute("printer-state",
		goipp.TagEnum, goipp.Integer(PrinterProcessing)))
	attrs.Add(goipp.MakeAttribute("notify-job-id",
		goipp.TagInteger, goipp.Integer(seq*10)))

	return goipp.Group{Tag: goipp.TagEventNotificationGroup, Attrs: attrs}
}

// fakeNotifications makes Get-Notifications response with events
func fakeNotifications(rq *fakeRequest, status goipp.Status,
	events ...goipp.Group) *goipp.Message {

	rsp := fakeResponse(rq, status)
	rsp.Groups = append(goipp.Groups{
		{Tag: goipp.TagOperationGroup, Attrs: rsp.Operation},
	}, events...)
	return rsp
}

// fakeSequenceNumber returns notify-sequence-numbers of the request
func fakeSequenceNumber(rq *fakeRequest) int {
	for _, attr := range rq.Msg.Operation {
		if attr.Name == "notify-sequence-numbers" && len(attr.Values) > 0 {
			return int(attr.Values[0].V.(goipp.Integer))
		}
	}
	return 0
}

// testSubscription returns Subscription for tests
func testSubscription(printer *fakePrinter) Subscription {
	return Subscription{ID: 42, PrinterURI: printer.URI()}
}

func TestPollerEvents(t *testing.T) {
	printer := newFakePrinter(t)

	// Printer returns all events it has, so each response
	// repeats events, already delivered
	all := []goipp.Group{
		fakeEvent(42, 1, "job-created"),
		fakeEvent(42, 2, "job-state-changed"),
		fakeEvent(42, 3, "job-completed"),
	}

	polls := 0
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		polls++
		if polls > len(all) {
			polls = len(all)
		}
		return fakeNotifications(rq, goipp.StatusOk, all[:polls]...)
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	var received []Event
	err := poller.Run(context.Background(), func(evnt Event) bool {
		received = append(received, evnt)
		return evnt.SequenceNumber < 3
	})

	require.NoError(t, err)
	assert.Equal(t, PollerCancelled, poller.State())

	require.Len(t, received, 3)
	for i, evnt := range received {
		assert.Equal(t, i+1, evnt.SequenceNumber)
		assert.Equal(t, 42, evnt.SubscriptionID)
		assert.Equal(t, (i+1)*10, evnt.JobID)
		assert.Equal(t, PrinterProcessing, evnt.PrinterState)
	}

	assert.Equal(t, "job-created", received[0].Event)
	assert.Equal(t, "job-created happened", received[0].Text)
	assert.Equal(t, 3, poller.Subscription().LastEventSeq)

	// Each request asks for events after the last delivered one
	var seqs []int
	for _, rq := range printer.Requests() {
		seqs = append(seqs, fakeSequenceNumber(rq))
	}
	assert.Equal(t, []int{1, 2, 3}, seqs)
}

func TestPollerForeignEvents(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		return fakeNotifications(rq, goipp.StatusOk,
			fakeEvent(7, 1, "printer-stopped"),
			fakeEvent(42, 1, "printer-state-changed"))
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	var received []Event
	err := poller.Run(context.Background(), func(evnt Event) bool {
		received = append(received, evnt)
		return false
	})

	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "printer-state-changed", received[0].Event)
}

func TestPollerCancel(t *testing.T) {
	printer := newFakePrinter(t)

	polled := make(chan struct{}, 100)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		polled <- struct{}{}
		return fakeNotifications(rq, goipp.StatusOk)
	})
	printer.Handle(goipp.OpCancelSubscription, func(rq *fakeRequest) *goipp.Message {
		return nil
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	errc := make(chan error, 1)
	go func() {
		errc <- poller.Run(context.Background(), func(Event) bool {
			return true
		})
	}()

	<-polled
	require.NoError(t, poller.Cancel(context.Background()))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run not finished after Cancel")
	}

	<-poller.Done()
	assert.Equal(t, PollerCancelled, poller.State())

	// No requests after Cancel
	cnt := printer.Count(goipp.OpGetNotifications)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, cnt, printer.Count(goipp.OpGetNotifications))
	assert.Equal(t, 1, printer.Count(goipp.OpCancelSubscription))

	// Run can't be restarted
	err := poller.Run(context.Background(), func(Event) bool { return true })
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPollerCancelGone(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpCancelSubscription, func(rq *fakeRequest) *goipp.Message {
		return fakeResponse(rq, goipp.StatusErrorNotFound)
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	// Cancel before Run; subscription already gone
	assert.NoError(t, poller.Cancel(context.Background()))
	assert.Equal(t, PollerCancelled, poller.State())

	err := poller.Run(context.Background(), func(Event) bool { return true })
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 0, printer.Count(goipp.OpGetNotifications))
}

func TestPollerContextCancel(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		return fakeNotifications(rq, goipp.StatusOk)
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := poller.Run(ctx, func(Event) bool { return true })
	assert.NoError(t, err)
	assert.Equal(t, PollerCancelled, poller.State())
	assert.Greater(t, printer.Count(goipp.OpGetNotifications), 0)
}

func TestPollerLeaseExpired(t *testing.T) {
	printer := newFakePrinter(t)
	clock := newFakeClock()

	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		clock.Advance(2 * time.Minute)
		return fakeNotifications(rq, goipp.StatusOk)
	})

	c := newTestClient(t, clock.Now)

	sub := testSubscription(printer)
	sub.Lease = time.Minute
	sub.LeaseExpiry = clock.Now().Add(time.Minute)

	poller := c.NewPoller(sub)
	err := poller.Run(context.Background(), func(Event) bool { return true })

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, PollerExpired, poller.State())
	assert.Equal(t, 1, printer.Count(goipp.OpGetNotifications))
}

func TestPollerSubscriptionGone(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		return fakeResponse(rq, goipp.StatusErrorNotFound)
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	err := poller.Run(context.Background(), func(Event) bool { return true })
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, PollerExpired, poller.State())
	assert.Equal(t, 1, printer.Count(goipp.OpGetNotifications))

	// Cancel of expired poller doesn't touch the printer
	assert.NoError(t, poller.Cancel(context.Background()))
	assert.Equal(t, 0, printer.Count(goipp.OpCancelSubscription))
}

func TestPollerEventsComplete(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		return fakeNotifications(rq, goipp.StatusOkEventsComplete,
			fakeEvent(42, 1, "printer-deleted"))
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	var received []Event
	err := poller.Run(context.Background(), func(evnt Event) bool {
		received = append(received, evnt)
		return true
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, PollerExpired, poller.State())
	require.Len(t, received, 1)
	assert.Equal(t, "printer-deleted", received[0].Event)
}

func TestPollerFailed(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		return fakeResponse(rq, goipp.StatusErrorBusy)
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	err := poller.Run(context.Background(), func(Event) bool { return true })
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, PollerFailed, poller.State())

	// EventMaxRetries is 2: the initial request and 2 retries
	assert.Equal(t, 3, printer.Count(goipp.OpGetNotifications))
}

func TestPollerRecovery(t *testing.T) {
	printer := newFakePrinter(t)

	polls := 0
	printer.Handle(goipp.OpGetNotifications, func(rq *fakeRequest) *goipp.Message {
		polls++
		switch polls {
		case 1, 2, 4, 5:
			return fakeResponse(rq, goipp.StatusErrorBusy)
		case 3:
			return fakeNotifications(rq, goipp.StatusOk,
				fakeEvent(42, 1, "job-created"))
		}
		return fakeNotifications(rq, goipp.StatusOk,
			fakeEvent(42, 2, "job-completed"))
	})

	c := newTestClient(t, nil)
	poller := c.NewPoller(testSubscription(printer))

	var received []Event
	err := poller.Run(context.Background(), func(evnt Event) bool {
		received = append(received, evnt)
		return evnt.SequenceNumber < 2
	})

	// Failures counter is reset by the successful request
	require.NoError(t, err)
	assert.Len(t, received, 2)
	assert.Equal(t, 6, printer.Count(goipp.OpGetNotifications))
}

func TestPollerBackoff(t *testing.T) {
	type testData struct {
		interval time.Duration
		failures uint
		delay    time.Duration
	}

	tests := []testData{
		{time.Second, 1, time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 3, 4 * time.Second},
		{time.Second, 5, 16 * time.Second},
		{time.Second, 6, EventRetryMaxDelay},
		{time.Second, 100, EventRetryMaxDelay},
		{time.Minute, 1, EventRetryMaxDelay},
	}

	for _, test := range tests {
		delay := pollerBackoff(test.interval, test.failures)
		if delay != test.delay {
			t.Errorf("pollerBackoff(%s, %d): expected %s, present %s",
				test.interval, test.failures, test.delay, delay)
		}
	}
}

func TestSubscriptionLease(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var grp AttributeGroup
	grp.Add(MakeAttr("notify-lease-duration", TagInteger, Integer(0)))

	// Zero granted lease means infinite
	var sub Subscription
	sub.setLease(grp, time.Hour, now)
	assert.Equal(t, time.Duration(0), sub.Lease)
	assert.True(t, sub.LeaseExpiry.IsZero())
	assert.False(t, sub.Expired(now.Add(1000*time.Hour)))

	// Missed lease: requested is assumed
	sub.setLease(AttributeGroup{}, time.Hour, now)
	assert.Equal(t, time.Hour, sub.Lease)
	assert.False(t, sub.Expired(now.Add(59*time.Minute)))
	assert.True(t, sub.Expired(now.Add(time.Hour)))
}

func TestRenewSubscription(t *testing.T) {
	printer := newFakePrinter(t)
	printer.Handle(goipp.OpRenewSubscription, func(rq *fakeRequest) *goipp.Message {
		rsp := fakeResponse(rq, goipp.StatusOk)
		rsp.Operation.Add(goipp.MakeAttribute("notify-lease-duration",
			goipp.TagInteger, goipp.Integer(120)))
		return rsp
	})

	clock := newFakeClock()
	c := newTestClient(t, clock.Now)

	sub := testSubscription(printer)
	sub.LastEventSeq = 17

	sub, err := c.RenewSubscription(context.Background(), sub, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, sub.Lease)
	assert.Equal(t, clock.Now().Add(2*time.Minute), sub.LeaseExpiry)
	assert.Equal(t, 17, sub.LastEventSeq)
}

func TestSubscriptionLeaseRange(t *testing.T) {
	printer := newFakePrinter(t)

	var requested []string
	printer.Handle(goipp.OpCreatePrinterSubscriptions, func(rq *fakeRequest) *goipp.Message {
		for _, attr := range rq.Msg.Subscription {
			if attr.Name == "notify-lease-duration" {
				requested = append(requested, attr.Values[0].V.String())
			}
		}

		rsp := fakeResponse(rq, goipp.StatusOk)
		rsp.Subscription.Add(goipp.MakeAttribute("notify-subscription-id",
			goipp.TagInteger, goipp.Integer(7)))
		return rsp
	})

	c := newTestClient(t, nil)
	ctx := context.Background()

	// The longest representable lease is sent as is
	_, err := c.CreateSubscription(ctx, printer.URI(), MaxLease)
	require.NoError(t, err)
	assert.Equal(t, []string{"2147483647"}, requested)

	// Longer and negative leases are rejected without I/O
	_, err = c.CreateSubscription(ctx, printer.URI(), 40000000*time.Minute)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = c.CreateSubscription(ctx, printer.URI(), -time.Minute)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = c.RenewSubscription(ctx, testSubscription(printer), MaxLease+time.Second)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, 1, printer.Count(goipp.OpCreatePrinterSubscriptions))
	assert.Equal(t, 0, printer.Count(goipp.OpRenewSubscription))
}
