package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/korvusdb/korvus-go/internal/bufpool"
	"github.com/korvusdb/korvus-go/internal/framereader"
	"github.com/korvusdb/korvus-go/internal/waiter"
)

func makeFrame(t *testing.T, pool *bufpool.Pool, payload string) *framereader.FrameReader {
	t.Helper()
	fr := framereader.New(pool)
	if err := fr.Append([]byte(payload), true); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return fr
}

func TestDispatchRoutesToRegisteredWaiter(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(64)
	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, 50*time.Millisecond, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	w := waiter.New("abc", false, 1)
	if ok := c.Register(w); !ok {
		t.Fatal("Register() = false")
	}

	in <- makeFrame(t, pool, `{"id":"abc","result":42}`)

	d, err := w.Wait(make(chan struct{}))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d.Header.ID != "abc" {
		t.Fatalf("Header.ID = %q, want %q", d.Header.ID, "abc")
	}
	d.Reader.Close()

	time.Sleep(20 * time.Millisecond)
	if c.CacheLen() != 0 {
		t.Fatalf("CacheLen() = %d, want 0 (non-persistent waiter unregistered)", c.CacheLen())
	}
}

func TestUnclaimedMessageDiscarded(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(64)
	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, 50*time.Millisecond, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	in <- makeFrame(t, pool, `{"id":"zzz","method":"live.update","params":[1]}`)

	time.Sleep(30 * time.Millisecond)
	if c.CacheLen() != 0 {
		t.Fatalf("CacheLen() = %d, want 0", c.CacheLen())
	}
}

func TestMalformedHeaderDiscarded(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(64)
	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, 50*time.Millisecond, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	w := waiter.New("abc", false, 1)
	c.Register(w)

	in <- makeFrame(t, pool, `{"method":"no-id-here"}`)

	select {
	case <-w.Notifications():
		t.Fatal("waiter received a delivery for a header with no id")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPersistentWaiterStaysRegisteredAcrossDispatches(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(64)
	in := make(chan *framereader.FrameReader, 2)
	c := New(in, 512, time.Minute, 50*time.Millisecond, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	w := waiter.New("sub-1", true, 4)
	c.Register(w)

	in <- makeFrame(t, pool, `{"id":"sub-1","method":"live.update","params":[1]}`)
	in <- makeFrame(t, pool, `{"id":"sub-1","method":"live.update","params":[2]}`)

	for i := 0; i < 2; i++ {
		select {
		case d := <-w.Notifications():
			d.Reader.Close()
		case <-time.After(time.Second):
			t.Fatalf("did not receive notification %d", i)
		}
	}

	if c.CacheLen() != 1 {
		t.Fatalf("CacheLen() = %d, want 1 (persistent waiter stays registered)", c.CacheLen())
	}
}

type recordingMetrics struct {
	mu      sync.Mutex
	evicted int
}

func (m *recordingMetrics) MessageDropped(string) {}
func (m *recordingMetrics) WaiterRegistered()     {}
func (m *recordingMetrics) WaiterDispatched()     {}
func (m *recordingMetrics) WaiterEvicted() {
	m.mu.Lock()
	m.evicted++
	m.mu.Unlock()
}

func (m *recordingMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}

func TestTTLSweepReportsWaiterEvicted(t *testing.T) {
	t.Parallel()

	in := make(chan *framereader.FrameReader, 1)
	metrics := &recordingMetrics{}
	c := New(in, 512, 20*time.Millisecond, 10*time.Millisecond, metrics, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	w := waiter.New("abandoned", false, 1)
	c.Register(w)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if metrics.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("WaiterEvicted was not reported for a TTL-swept waiter")
}

func TestHeaderSplitAcrossTwoAppendsIsStillFound(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(8)
	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, 50*time.Millisecond, nil, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	w := waiter.New("abc", false, 1)
	if ok := c.Register(w); !ok {
		t.Fatal("Register() = false")
	}

	payload := `{"id":"abc","result":42}`
	fr := framereader.New(pool)
	// Split the payload so the first chunk is shorter than where "id"
	// appears, simulating a header fragmented across two WebSocket frames.
	split := 4
	if err := fr.Append([]byte(payload[:split]), false); err != nil {
		t.Fatalf("Append first chunk: %v", err)
	}
	in <- fr

	time.Sleep(20 * time.Millisecond)
	if err := fr.Append([]byte(payload[split:]), true); err != nil {
		t.Fatalf("Append second chunk: %v", err)
	}

	select {
	case d := <-w.Notifications():
		if d.Header.ID != "abc" {
			t.Fatalf("Header.ID = %q, want %q", d.Header.ID, "abc")
		}
		d.Reader.Close()
	case <-time.After(time.Second):
		t.Fatal("waiter never received the message split across two appends")
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, time.Second, nil, nil)
	defer c.Close()

	w1 := waiter.New("dup", false, 1)
	w2 := waiter.New("dup", false, 1)

	if ok := c.Register(w1); !ok {
		t.Fatal("first Register() = false")
	}
	if ok := c.Register(w2); ok {
		t.Fatal("second Register() for same id = true, want false")
	}
}

func TestCloseReleasesPendingWaiters(t *testing.T) {
	t.Parallel()

	in := make(chan *framereader.FrameReader, 1)
	c := New(in, 512, time.Minute, time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	w := waiter.New("pending", false, 1)
	c.Register(w)

	c.Close()

	if !w.Canceled() {
		t.Fatal("waiter not released after consumer Close")
	}
}
