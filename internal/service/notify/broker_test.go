package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversPerVisitor(t *testing.T) {
	b := NewBroker()
	a, cancelA := b.Subscribe("a")
	defer cancelA()
	other, cancelOther := b.Subscribe("b")
	defer cancelOther()

	n := b.Publish(Event{Type: EventNotification, VisitorID: "a", Data: Notification{Title: "Avatar Connected"}})
	require.Equal(t, 1, n)

	evt := <-a
	require.Equal(t, EventNotification, evt.Type)
	require.False(t, evt.Timestamp.IsZero())
	require.Equal(t, "Avatar Connected", evt.Data.(Notification).Title)

	select {
	case evt := <-other:
		t.Fatalf("unexpected event for other visitor: %+v", evt)
	default:
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	b.buffer = 1
	ch, cancel := b.Subscribe("a")
	defer cancel()

	require.Equal(t, 1, b.Publish(Event{Type: EventState, VisitorID: "a"}))
	require.Equal(t, 0, b.Publish(Event{Type: EventState, VisitorID: "a"}))
	require.Len(t, ch, 1)
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker()
	first, cancel := b.Subscribe("a")
	second, _ := b.Subscribe("a")
	require.Equal(t, 2, b.Subscribers("a"))

	cancel()
	cancel()
	_, ok := <-first
	require.False(t, ok)
	require.Equal(t, 1, b.Subscribers("a"))

	b.Close("a")
	_, ok = <-second
	require.False(t, ok)
	require.Zero(t, b.Subscribers("a"))
	require.Zero(t, b.Publish(Event{VisitorID: "a"}))
}
