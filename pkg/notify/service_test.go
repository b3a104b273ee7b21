package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

// collector records every notification it receives.
type collector struct {
	mu  sync.Mutex
	got []*Notification
}

func (c *collector) HandleNotification(n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type countingRecorder struct {
	delivered, dropped, failures int
}

func (r *countingRecorder) RecordNotification(_ string, handlers int) { r.delivered += handlers }
func (r *countingRecorder) RecordNotificationDropped(string)          { r.dropped++ }
func (r *countingRecorder) RecordHandlerFailure(string)               { r.failures++ }

func TestRegistry_ListenersAreSets(t *testing.T) {
	r := NewRegistry()
	source := model.MustParseAddress("/server=s1")
	listener := model.MustParseAddress("/monitor=m1")

	r.RegisterListener(source, listener)
	r.RegisterListener(source, listener)
	assert.Equal(t, []model.Address{listener}, r.Listeners(source))

	r.UnregisterListener(source, listener)
	r.UnregisterListener(source, listener)
	got := r.Listeners(source)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.NotNil(t, r.Listeners(model.MustParseAddress("/never=registered")))
}

func TestRegistry_HandlersAreSets(t *testing.T) {
	r := NewRegistry()
	source := model.MustParseAddress("/server=s1")
	h := &collector{}

	r.RegisterHandler(source, h)
	r.RegisterHandler(source, h)
	assert.Len(t, r.Handlers(source), 1)

	r.UnregisterHandler(source, h)
	assert.Empty(t, r.Handlers(source))
}

func TestService_ExactMatchTakesPrecedence(t *testing.T) {
	svc := NewService(WithClock(fixedClock))
	exact, wildcard := &collector{}, &collector{}
	svc.RegisterHandler(model.Pairs("server", "s1", "queue", "q1"), exact)
	svc.RegisterHandler(model.Pairs("server", "s1", "queue", "#"), wildcard)

	n := svc.Emit(model.Pairs("server", "s1", "queue", "q1"), TypeAttributeValueChanged, "changed", nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, exact.count())
	assert.Equal(t, 0, wildcard.count())
}

func TestService_WildcardFallback(t *testing.T) {
	svc := NewService(WithClock(fixedClock))
	wildcard := &collector{}
	svc.RegisterHandler(model.Pairs("server", "s1", "queue", "#"), wildcard)

	n := svc.Emit(model.Pairs("server", "s1", "queue", "q2"), TypeAttributeValueChanged, "changed", nil)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, wildcard.count())
	assert.Equal(t, model.Pairs("server", "s1", "queue", "q2"), wildcard.got[0].Resource)

	// Only one level of fallback.
	n = svc.Emit(model.Pairs("server", "s2", "queue", "q2"), TypeAttributeValueChanged, "changed", nil)
	assert.Zero(t, n)

	// Single-segment addresses have no fallback.
	svc.RegisterHandler(model.Pairs("server", "#"), wildcard)
	n = svc.Emit(model.Pairs("server", "s9"), TypeAttributeValueChanged, "changed", nil)
	assert.Zero(t, n)
}

func TestService_StarWildcardSubscription(t *testing.T) {
	svc := NewService(WithClock(fixedClock))
	star := &collector{}
	svc.RegisterHandler(model.Pairs("server", "s1", "queue", "*"), star)
	assert.Len(t, svc.Handlers(model.Pairs("server", "s1", "queue", "#")), 1)

	n := svc.Emit(model.Pairs("server", "s1", "queue", "q2"), TypeAttributeValueChanged, "changed", nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, star.count())

	svc.UnregisterHandler(model.Pairs("server", "s1", "queue", "#"), star)
	n = svc.Emit(model.Pairs("server", "s1", "queue", "q2"), TypeAttributeValueChanged, "changed", nil)
	assert.Zero(t, n)
}

func TestService_NoSubscriberIsSilent(t *testing.T) {
	rec := &countingRecorder{}
	var dropped []string
	svc := NewService(WithRecorder(rec), WithDropHook(func(source model.Address, typ string) {
		dropped = append(dropped, source.String()+" "+typ)
	}))

	assert.NotPanics(t, func() {
		n := svc.Emit(model.Pairs("server", "s1", "queue", "q1"), TypeResourceAdded, "added", nil)
		assert.Zero(t, n)
	})
	assert.Equal(t, 1, rec.dropped)
	assert.Equal(t, []string{"/server=s1/queue=q1 RESOURCE_ADDED"}, dropped)
}

func TestService_SharedRecordAndIsolation(t *testing.T) {
	rec := &countingRecorder{}
	svc := NewService(WithClock(fixedClock), WithRecorder(rec))
	source := model.Pairs("server", "s1")

	var received []*Notification
	var mu sync.Mutex
	record := func(n *Notification) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, n)
		return nil
	}
	svc.RegisterHandler(source, NewHandler(record))
	svc.RegisterHandler(source, NewHandler(func(*Notification) error { panic("bad handler") }))
	svc.RegisterHandler(source, NewHandler(func(*Notification) error { return errors.New("sink down") }))
	svc.RegisterHandler(source, NewHandler(record))

	n := svc.Emit(source, TypeResourceAdded, "added", map[string]any{"k": "v"})
	assert.Equal(t, 2, n)
	require.Len(t, received, 2)
	assert.Same(t, received[0], received[1])
	assert.Equal(t, fixedTime.UnixMilli(), received[0].Timestamp)
	assert.Equal(t, fixedTime, received[0].Time().UTC())
	assert.Equal(t, 2, rec.delivered)
	assert.Equal(t, 2, rec.failures)
}

func TestService_PayloadIsCopied(t *testing.T) {
	svc := NewService()
	c := &collector{}
	source := model.Pairs("server", "s1")
	svc.RegisterHandler(source, c)

	data := map[string]any{"k": "v"}
	svc.Emit(source, TypeResourceAdded, "added", data)
	data["k"] = "mutated"

	require.Equal(t, 1, c.count())
	assert.Equal(t, "v", c.got[0].DataMap()["k"])
}

func TestFiltered(t *testing.T) {
	svc := NewService()
	c := &collector{}
	source := model.Pairs("server", "s1")
	svc.RegisterHandler(source, Filtered(c, OfType(TypeResourceRemoved)))

	svc.Emit(source, TypeResourceAdded, "added", nil)
	svc.Emit(source, TypeResourceRemoved, "removed", nil)
	require.Equal(t, 1, c.count())
	assert.Equal(t, TypeResourceRemoved, c.got[0].Type)
}

func TestNotification_WireShape(t *testing.T) {
	n := New(
		model.Pairs("subsystem", "messaging", "server", "default", "queue", "q1"),
		TypeAttributeValueChanged,
		`attribute "max-size" changed`,
		map[string]any{
			DataName:     "max-size",
			DataOldValue: 5,
			DataNewValue: 9,
			DataTriggeringOperation: map[string]any{
				"operation": "write-attribute",
				"name":      "max-size",
				"value":     9,
			},
		},
		fixedTime,
	)

	data, err := json.Marshal(n)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "attribute_value_changed", data)

	var back Notification
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n.Resource, back.Resource)
	assert.Equal(t, n.Timestamp, back.Timestamp)
}
