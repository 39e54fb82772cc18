package kiss

import (
	"context"
	"errors"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (l *eventLog) observe(_ context.Context, e cloudevents.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Type())
	}
	return out
}

func TestCloudEvent(t *testing.T) {
	event := NewCloudEvent("test.event", "test.source", map[string]any{"path": "/x"}, map[string]any{"key": "value"})

	assert.Equal(t, "test.event", event.Type())
	assert.Equal(t, "test.source", event.Source())
	_, err := uuid.Parse(event.ID())
	assert.NoError(t, err)
	assert.NoError(t, event.Validate())

	var data map[string]any
	require.NoError(t, event.DataAs(&data))
	assert.Equal(t, "/x", data["path"])
	assert.Equal(t, "value", event.Extensions()["key"])
}

func TestObserverReceivesModuleEvents(t *testing.T) {
	cat, _, _ := testCatalog(t)
	all := &eventLog{}
	loads := &eventLog{}
	c := newTestContainer(t, cat, WithObserver(NewFunctionalObserver("all", all.observe)))
	require.NoError(t, c.RegisterObserver(NewFunctionalObserver("loads", loads.observe), EventTypeModuleLoaded))
	ctx := context.Background()

	dir := writeModule(t, english())
	_, err := c.LoadModule(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, c.UnloadModule(ctx, dir))
	_, err = c.Enhance(ctx, classOf(t, c, "test.Person"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, []string{
		EventTypeModuleLoaded, EventTypeModuleUnloaded, EventTypeClassEnhanced, EventTypeContainerClosed,
	}, all.types())
	assert.Equal(t, []string{EventTypeModuleLoaded}, loads.types())

	var data map[string]any
	require.NoError(t, all.events[0].DataAs(&data))
	assert.Equal(t, dir, data["path"])
	assert.NotEqual(t, all.events[0].ID(), all.events[1].ID())
}

func TestObserverRegistration(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	failing := NewFunctionalObserver("failing", func(context.Context, cloudevents.Event) error {
		return errors.New("boom")
	})
	log := &eventLog{}

	require.NoError(t, c.RegisterObserver(failing))
	require.NoError(t, c.RegisterObserver(NewFunctionalObserver("log", log.observe)))
	require.NoError(t, c.RegisterObserver(NewFunctionalObserver("log", log.observe), EventTypeModuleUnloaded))

	infos := c.GetObservers()
	require.Len(t, infos, 2, "registering an id again replaces it")
	assert.Equal(t, "failing", infos[0].ID)
	assert.Equal(t, []string{EventTypeModuleUnloaded}, infos[1].EventTypes)

	ctx := context.Background()
	assert.NoError(t, c.NotifyObservers(ctx, NewCloudEvent(EventTypeModuleUnloaded, "test", nil, nil)),
		"observer errors are not returned")
	assert.Len(t, log.types(), 1)

	require.NoError(t, c.UnregisterObserver(failing))
	assert.Len(t, c.GetObservers(), 1)

	assert.Error(t, c.NotifyObservers(ctx, cloudevents.NewEvent()), "invalid events are rejected")
}
