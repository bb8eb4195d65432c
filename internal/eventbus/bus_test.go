package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: CaptureAdmitted, Data: CaptureData{CaptureID: 3}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != CaptureAdmitted || e.ID == "" || e.Time.IsZero() {
			t.Fatalf("unexpected event: %+v", e)
		}
		if d, ok := e.Data.(CaptureData); !ok || d.CaptureID != 3 {
			t.Fatalf("unexpected data: %#v", e.Data)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	unsub()

	var got []string
	for e := range ch {
		got = append(got, e.Type)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, want [a]", got)
	}
	unsub()
}
