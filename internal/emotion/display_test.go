package emotion

import (
	"reflect"
	"testing"

	"EmotionOverlay/internal/entity"
)

type recordingSink struct {
	snapshots []Snapshot
}

func (s *recordingSink) ShowEmotions(snap Snapshot) {
	s.snapshots = append(s.snapshots, snap)
}

func barFor(t *testing.T, snap Snapshot, name string) Bar {
	t.Helper()
	for _, b := range snap.Bars {
		if b.Emotion == name {
			return b
		}
	}
	t.Fatalf("no bar for %s", name)
	return Bar{}
}

func assertBaseline(t *testing.T, snap Snapshot) {
	t.Helper()
	for _, b := range snap.Bars {
		if b.Width != 0 || b.Label != "0%" {
			t.Fatalf("expected %s at 0%%, got %d/%s", b.Emotion, b.Width, b.Label)
		}
	}
	if snap.Dominant.Icon != IdleIcon || snap.Dominant.Value != "0%" {
		t.Fatalf("unexpected dominant baseline: %#v", snap.Dominant)
	}
}

func TestProfileOrder(t *testing.T) {
	want := []string{Neutral, Happy, Sad, Angry, Fearful, Disgusted, Surprised}
	got := make([]string, 0, len(want))
	for _, e := range Profile() {
		got = append(got, e.Name)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected profile order: %v", got)
	}

	p := Profile()
	p[0].Name = "mutated"
	if e, ok := Lookup(Neutral); !ok || e.Icon != "😐" {
		t.Fatalf("profile must not be mutable through Profile(): %#v", e)
	}
}

func TestNewDisplayStartsAtBaseline(t *testing.T) {
	assertBaseline(t, NewDisplay(nil).Snapshot())
}

func TestRenderSetsBarsAndDominant(t *testing.T) {
	sink := &recordingSink{}
	d := NewDisplay(sink)

	d.Render(entity.ExpressionReading{
		Neutral: 0.104,
		Happy:   0.785,
		Sad:     0.005,
	})

	snap := d.Snapshot()
	if b := barFor(t, snap, Happy); b.Width != 79 || b.Label != "79%" {
		t.Fatalf("unexpected happy bar: %#v", b)
	}
	if b := barFor(t, snap, Neutral); b.Width != 10 || b.Label != "10%" {
		t.Fatalf("unexpected neutral bar: %#v", b)
	}
	if b := barFor(t, snap, Sad); b.Width != 1 || b.Label != "1%" {
		t.Fatalf("unexpected sad bar: %#v", b)
	}
	if b := barFor(t, snap, Angry); b.Width != 0 || b.Label != "0%" {
		t.Fatalf("absent emotions must keep their bar: %#v", b)
	}

	want := Dominant{Emotion: Happy, Icon: "😊", Color: "#fdcb6e", Value: "79%"}
	if snap.Dominant != want {
		t.Fatalf("unexpected dominant: %#v", snap.Dominant)
	}
	if len(sink.snapshots) != 1 {
		t.Fatalf("expected one published snapshot, got %d", len(sink.snapshots))
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	d := NewDisplay(nil)
	reading := entity.ExpressionReading{Angry: 0.42, Surprised: 0.58}

	d.Render(reading)
	first := d.Snapshot()
	d.Render(reading)
	second := d.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("render not idempotent:\n%#v\n%#v", first, second)
	}
}

func TestRenderTieGoesToProfileOrder(t *testing.T) {
	d := NewDisplay(nil)

	d.Render(entity.ExpressionReading{Surprised: 0.4, Sad: 0.4, Fearful: 0.2})

	if got := d.Snapshot().Dominant.Emotion; got != Sad {
		t.Fatalf("expected sad to win the tie, got %s", got)
	}
}

func TestRenderEmptyReadingKeepsDominant(t *testing.T) {
	d := NewDisplay(nil)
	d.Render(entity.ExpressionReading{Happy: 0.9})
	before := d.Snapshot().Dominant

	d.Render(entity.ExpressionReading{})
	d.Render(entity.ExpressionReading{"contempt": 0.99})

	if after := d.Snapshot().Dominant; after != before {
		t.Fatalf("dominant changed on empty reading: %#v -> %#v", before, after)
	}
}

func TestResetAlwaysReturnsToBaseline(t *testing.T) {
	sink := &recordingSink{}
	d := NewDisplay(sink)

	d.Render(entity.ExpressionReading{Disgusted: 1, Neutral: 0.3})
	d.Reset()
	assertBaseline(t, d.Snapshot())

	d.Reset()
	assertBaseline(t, d.Snapshot())

	if len(sink.snapshots) != 3 {
		t.Fatalf("expected three published snapshots, got %d", len(sink.snapshots))
	}
	assertBaseline(t, sink.snapshots[2])
}
