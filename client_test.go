package korvus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/korvusdb/korvus-go/internal/transport"
)

func newTestClient(t *testing.T, mt *transport.MemTransport, opts ...Option) *Client {
	t.Helper()
	c, err := New(context.Background(), mt, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

// respondTo reads the next outbound request from mt.Sent and injects a
// matching response, echoing back whatever id it finds.
func respondTo(t *testing.T, mt *transport.MemTransport, result string) string {
	t.Helper()
	select {
	case sent := <-mt.Sent:
		id := extractID(t, sent)
		mt.Inject(strings.NewReader(`{"id":"` + id + `","result":` + result + `}`))
		return id
	case <-time.After(time.Second):
		t.Fatal("no outbound request observed")
		return ""
	}
}

func extractID(t *testing.T, data []byte) string {
	t.Helper()
	s := string(data)
	const marker = `"id":"`
	i := strings.Index(s, marker)
	if i < 0 {
		t.Fatalf("no id field in %s", s)
	}
	rest := s[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		t.Fatalf("malformed id field in %s", s)
	}
	return rest[:j]
}

func TestSendEchoRoundTrip(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Send(context.Background(), Request{Method: "ping"})
		done <- result{resp, err}
	}()

	respondTo(t, mt, `"pong"`)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Send: %v", r.err)
		}
		if string(r.resp.Result) != `"pong"` {
			t.Fatalf("Result = %s, want %q", r.resp.Result, `"pong"`)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return")
	}
}

func TestSendUnknownMethodError(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	done := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := c.Send(context.Background(), Request{Method: "bogus"})
		done <- resp
		errCh <- err
	}()

	id := ""
	select {
	case sent := <-mt.Sent:
		id = extractID(t, sent)
	case <-time.After(time.Second):
		t.Fatal("no outbound request observed")
	}
	mt.Inject(strings.NewReader(`{"id":"` + id + `","error":{"code":-32601,"message":"method not found"}}`))

	resp := <-done
	err := <-errCh
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("resp.Error = %+v, want code -32601", resp.Error)
	}
}

func TestSendDuplicateIDRejected(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	go c.Send(context.Background(), Request{ID: "fixed", Method: "slow"})
	time.Sleep(20 * time.Millisecond)

	_, err := c.Send(context.Background(), Request{ID: "fixed", Method: "other"})
	if !errors.Is(err, ErrDuplicateCorrelationId) {
		t.Fatalf("err = %v, want ErrDuplicateCorrelationId", err)
	}
}

func TestAsyncSendReturnsWithoutWaitingForResponse(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), Request{Method: "fire", Async: true})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("async Send blocked waiting for a response")
	}

	select {
	case sent := <-mt.Sent:
		if !strings.Contains(string(sent), `"async":true`) {
			t.Fatalf("outbound request missing async field: %s", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("async request never reached the transport")
	}
}

func TestUnsolicitedNotifyWithoutSubscriberDropped(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	mt.Inject(strings.NewReader(`{"id":"no-one-subscribed","method":"live.update","params":[1]}`))

	time.Sleep(30 * time.Millisecond)
	if n := c.cn.CacheLen(); n != 0 {
		t.Fatalf("CacheLen() = %d, want 0", n)
	}
}

func TestNotifyDeliveredToSubscriber(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	notifs, cancel, err := c.Notifications("sub-1")
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	defer cancel()

	mt.Inject(strings.NewReader(`{"id":"sub-1","method":"live.update","params":[42]}`))

	select {
	case n := <-notifs:
		if n.Method != "live.update" {
			t.Fatalf("Method = %q, want %q", n.Method, "live.update")
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestNotifyToResponseWaiterFails(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), Request{ID: "mixed-up", Method: "ping"})
		done <- err
	}()

	select {
	case <-mt.Sent:
	case <-time.After(time.Second):
		t.Fatal("no outbound request observed")
	}

	mt.Inject(strings.NewReader(`{"id":"mixed-up","method":"live.update","params":[1]}`))

	select {
	case err := <-done:
		if !errors.Is(err, ErrExpectedResponseGotNotify) {
			t.Fatalf("err = %v, want ErrExpectedResponseGotNotify", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return")
	}
}

func TestCloseDuringPendingSendCancels(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), Request{Method: "never-answered"})
		done <- err
	}()

	select {
	case <-mt.Sent:
	case <-time.After(time.Second):
		t.Fatal("no outbound request observed")
	}

	c.Close(context.Background())

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return after Close")
	}
}

func TestSendAfterCloseFailsFast(t *testing.T) {
	t.Parallel()

	mt := transport.NewMem(4)
	c := newTestClient(t, mt)
	c.Close(context.Background())

	_, err := c.Send(context.Background(), Request{Method: "x"})
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}
