package models_test

import (
	"testing"

	"github.com/mmdatafocus/shopping_tracker/models"
)

func TestNotifier_FanOut(t *testing.T) {
	n := models.NewNotifier()
	a, unsubA := n.Subscribe()
	b, unsubB := n.Subscribe()
	defer unsubB()

	n.Publish(models.EventTypeImport)
	for name, ch := range map[string]<-chan models.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != models.EventTypeImport {
				t.Fatalf("%s: expected import event, got %s", name, ev.Type)
			}
		default:
			t.Fatalf("%s: expected an event", name)
		}
	}

	unsubA()
	unsubA()
	if got := n.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", got)
	}
	if _, ok := <-a; ok {
		t.Fatalf("expected the unsubscribed channel to be closed")
	}
}

func TestNotifier_PublishNeverBlocks(t *testing.T) {
	n := models.NewNotifier()
	ch, unsubscribe := n.Subscribe()
	defer unsubscribe()

	// nobody reads, so all but the buffered events are dropped
	for i := 0; i < 100; i++ {
		n.Publish(models.EventTypeClear)
	}
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received >= 100 {
		t.Fatalf("expected a bounded number of buffered events, got %d", received)
	}
}
