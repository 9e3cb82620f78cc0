package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttagenda/internal/model"
	"ttagenda/internal/schedule"
	"ttagenda/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	block  bool
	closed bool
}

func (r *recorder) Send(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	fail, block := r.fail, r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("broken pipe")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), payload...))
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil
	}
	return r.msgs[len(r.msgs)-1]
}

type fixture struct {
	st  *store.Memory
	tpl model.Template
	hub *Hub
}

// newFixture serves a Wednesday template and pins "now" to Wednesday
// 2026-03-11 noon UTC.
func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemory()
	tpl, err := st.CreateTemplate(context.Background(), model.Template{
		Name:       "Wed practice",
		ValidFrom:  model.MustDate("2026-03-01"),
		ValidTo:    model.MustDate("2026-03-31"),
		Weekday:    2,
		StartTime:  model.MustClock("19:30"),
		Active:     true,
		Activities: []model.Activity{{Kind: model.KindTeam, DurationMinutes: 60, Topic: "install"}},
	})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC) }
	src := NewTodaySource(schedule.NewComposer(st), time.UTC, now)
	return fixture{st: st, tpl: tpl, hub: NewHub(src, Options{SendTimeout: 200 * time.Millisecond})}
}

func TestSubscribeSendsInitialSnapshot(t *testing.T) {
	f := newFixture(t)
	r := &recorder{}

	id, err := f.hub.Subscribe(context.Background(), r)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Equal(t, 1, r.count())

	var msg Message
	require.NoError(t, json.Unmarshal(r.last(), &msg))
	assert.True(t, msg.OK)
	assert.Equal(t, 1, msg.Count)
	require.Len(t, msg.Items, 1)
	assert.Equal(t, "Wed practice", msg.Items[0].Name)
}

func TestNoDuplicateBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := &recorder{}
	_, err := f.hub.Subscribe(ctx, r)
	require.NoError(t, err)

	require.NoError(t, f.hub.Refresh(ctx))
	require.NoError(t, f.hub.Refresh(ctx))
	assert.Equal(t, 1, r.count())

	// one field change yields exactly one broadcast
	tpl := f.tpl
	tpl.Activities[0].Topic = "tackling"
	_, err = f.st.UpdateTemplate(ctx, tpl)
	require.NoError(t, err)

	require.NoError(t, f.hub.Refresh(ctx))
	require.NoError(t, f.hub.Refresh(ctx))
	require.Equal(t, 2, r.count())

	var msg Message
	require.NoError(t, json.Unmarshal(r.last(), &msg))
	assert.Equal(t, "tackling", msg.Items[0].Activities[0].Topic)
}

func TestResubscribeGetsLastBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := &recorder{}
	_, err := f.hub.Subscribe(ctx, first)
	require.NoError(t, err)

	second := &recorder{}
	_, err = f.hub.Subscribe(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 1, first.count(), "existing subscriber must not get a duplicate")
	require.Equal(t, 1, second.count())
	assert.Equal(t, first.last(), second.last())
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := &recorder{}
	bad := &recorder{}
	hung := &recorder{}
	_, err := f.hub.Subscribe(ctx, good)
	require.NoError(t, err)
	_, err = f.hub.Subscribe(ctx, bad)
	require.NoError(t, err)
	_, err = f.hub.Subscribe(ctx, hung)
	require.NoError(t, err)
	require.Equal(t, 3, f.hub.Len())

	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()
	hung.mu.Lock()
	hung.block = true
	hung.mu.Unlock()

	_, err = f.st.UpsertOverride(ctx, model.Override{TemplateID: f.tpl.ID, Date: model.MustDate("2026-03-11"), Cancelled: true})
	require.NoError(t, err)
	require.NoError(t, f.hub.Refresh(ctx))

	assert.Equal(t, 1, f.hub.Len())
	assert.Equal(t, 2, good.count())
	assert.True(t, bad.closed)
	assert.True(t, hung.closed)

	var msg Message
	require.NoError(t, json.Unmarshal(good.last(), &msg))
	assert.Equal(t, 0, msg.Count)
	assert.NotNil(t, msg.Items)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	r := &recorder{}
	id, err := f.hub.Subscribe(context.Background(), r)
	require.NoError(t, err)

	f.hub.Unsubscribe(id)
	assert.Equal(t, 0, f.hub.Len())
	assert.True(t, r.closed)
	f.hub.Unsubscribe(id)
}

type flakySource struct {
	mu   sync.Mutex
	err  error
	snap Snapshot
}

func (s *flakySource) Snapshot(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.err
}

func TestSnapshotFailureKeepsSubscribers(t *testing.T) {
	src := &flakySource{snap: Snapshot{Payload: []byte(`{"ok":true}`), Fingerprint: "a"}}
	hub := NewHub(src, Options{})
	ctx := context.Background()

	r := &recorder{}
	_, err := hub.Subscribe(ctx, r)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("store unavailable")
	src.mu.Unlock()

	assert.Error(t, hub.Refresh(ctx))
	assert.Equal(t, 1, hub.Len())

	// a newcomer still receives the last good state
	late := &recorder{}
	_, err = hub.Subscribe(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), late.last())
}

func TestSubscribeWithoutAnySnapshotFails(t *testing.T) {
	hub := NewHub(&flakySource{err: errors.New("down")}, Options{})
	_, err := hub.Subscribe(context.Background(), &recorder{})
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Len())
}

func TestTriggerRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.hub.Start(ctx))
	defer f.hub.Stop()

	r := &recorder{}
	_, err := f.hub.Subscribe(ctx, r)
	require.NoError(t, err)

	_, err = f.st.UpsertOverride(ctx, model.Override{TemplateID: f.tpl.ID, Date: model.MustDate("2026-03-11"), StartTime: ptr(model.MustClock("18:00"))})
	require.NoError(t, err)
	f.hub.Trigger()
	f.hub.Trigger()

	assert.Eventually(t, func() bool { return r.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	hub := NewHub(&flakySource{}, Options{Spec: "not a schedule"})
	assert.Error(t, hub.Start(context.Background()))
}

func TestTodaySourceFingerprintStable(t *testing.T) {
	f := newFixture(t)
	src := NewTodaySource(schedule.NewComposer(f.st), time.UTC, func() time.Time {
		return time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	})
	a, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	b, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, a.Payload, b.Payload)
	assert.Len(t, a.Fingerprint, 64)
}

func ptr[T any](v T) *T { return &v }
