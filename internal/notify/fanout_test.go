package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/blood-connect/internal/models"
	"github.com/example/blood-connect/internal/storage"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
	panicOn string
	delay   time.Duration
}

func (f *fakeSender) Send(ctx context.Context, msg EmergencyEmail) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if msg.To == f.panicOn {
		panic("transport blew up")
	}
	if f.failFor[msg.To] {
		return errors.New("bad address")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.To)
	return nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakePusher struct {
	mu        sync.Mutex
	connected map[string]bool
	pushes    map[string]int
}

func (f *fakePusher) Push(userID, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[userID] {
		return false
	}
	if f.pushes == nil {
		f.pushes = make(map[string]int)
	}
	f.pushes[userID]++
	return true
}

func testDonors(n int) []models.Donor {
	out := make([]models.Donor, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		out = append(out, models.Donor{ID: id, Email: id + "@example.com", BloodGroup: models.ONeg, Available: true})
	}
	return out
}

func testRequest() *models.Request {
	return &models.Request{
		ID:            "req1",
		RequesterID:   "hospital1",
		BloodGroup:    models.ONeg,
		Units:         2,
		HospitalName:  "City General",
		LocationLabel: "Downtown",
		ContactNumber: "555-0100",
		Status:        models.StatusActive,
	}
}

func TestFanoutIsolatesFailures(t *testing.T) {
	sender := &fakeSender{failFor: map[string]bool{"c@example.com": true}}
	store := storage.NewMemoryNotificationStore()
	f := &Fanout{Email: sender, Notifications: store, Concurrency: 4, Timeout: time.Second}

	donors := testDonors(10)
	f.DispatchAndWait(context.Background(), models.MatchResult{RequestID: "req1", Donors: donors}, testRequest())

	require.Len(t, sender.sentTo(), 9, "one bad address must not block the other nine")

	// every donor still gets the persisted in-app record
	for _, d := range donors {
		ns, err := store.ListByRecipient(context.Background(), d.ID)
		require.NoError(t, err)
		require.Len(t, ns, 1)
		require.Equal(t, models.NotificationEmergency, ns[0].Type)
	}
}

func TestFanoutRecoversPanics(t *testing.T) {
	sender := &fakeSender{panicOn: "b@example.com"}
	f := &Fanout{Email: sender, Concurrency: 2, Timeout: time.Second}

	f.DispatchAndWait(context.Background(), models.MatchResult{RequestID: "req1", Donors: testDonors(4)}, testRequest())

	require.Len(t, sender.sentTo(), 3, "a panicking dispatch must not take down its siblings")
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	sender := &fakeSender{delay: 300 * time.Millisecond}
	f := &Fanout{Email: sender, Concurrency: 2, Timeout: 2 * time.Second}

	start := time.Now()
	f.Dispatch(models.MatchResult{RequestID: "req1", Donors: testDonors(8)}, testRequest())
	elapsed := time.Since(start)
	require.Less(t, elapsed, 100*time.Millisecond, "Dispatch must return before any transport settles")

	require.Eventually(t, func() bool { return f.Inflight() == 0 }, 5*time.Second, 20*time.Millisecond)
	require.Len(t, sender.sentTo(), 8)
}

func TestFanoutPushesConnectedDonorsOnce(t *testing.T) {
	sender := &fakeSender{}
	pusher := &fakePusher{connected: map[string]bool{"a": true}}
	f := &Fanout{Email: sender, Pusher: pusher, Concurrency: 4, Timeout: time.Second}

	f.DispatchAndWait(context.Background(), models.MatchResult{RequestID: "req1", Donors: testDonors(3)}, testRequest())

	require.Equal(t, 1, pusher.pushes["a"], "connected donor receives exactly one push per request")
	require.Zero(t, pusher.pushes["b"])
	require.Zero(t, pusher.pushes["c"])
	// disconnected donors still get the email leg
	require.ElementsMatch(t, []string{"a@example.com", "b@example.com", "c@example.com"}, sender.sentTo())
}

func TestFanoutTimesOutHungTransport(t *testing.T) {
	sender := &fakeSender{delay: 5 * time.Second}
	f := &Fanout{Email: sender, Concurrency: 4, Timeout: 50 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		f.DispatchAndWait(context.Background(), models.MatchResult{RequestID: "req1", Donors: testDonors(2)}, testRequest())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hung transport must be cut off by the per-dispatch timeout")
	}
	require.Empty(t, sender.sentTo())
}
