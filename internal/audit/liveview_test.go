package audit

import (
	"strconv"
	"testing"
	"time"
)

func rec(msg string) Record {
	return Record{Time: time.Now(), Level: LevelInfo, Device: "10.0.0.5", Message: msg}
}

func TestLiveView_EvictsOldestFirst(t *testing.T) {
	v := NewLiveView(3)

	for i := 1; i <= 5; i++ {
		if err := v.WriteRecord(rec(strconv.Itoa(i))); err != nil {
			t.Fatalf("WriteRecord() error = %v", err)
		}
		if v.Len() > v.Cap() {
			t.Fatalf("Len() = %d exceeds Cap() = %d", v.Len(), v.Cap())
		}
	}

	got := v.Records()
	want := []string{"3", "4", "5"}
	if len(got) != len(want) {
		t.Fatalf("Records() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("record[%d] = %q, want %q", i, got[i].Message, want[i])
		}
	}
}

func TestLiveView_PartialFill(t *testing.T) {
	v := NewLiveView(10)
	v.WriteRecord(rec("a"))
	v.WriteRecord(rec("b"))

	got := v.Records()
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "b" {
		t.Errorf("Records() = %+v, want [a b]", got)
	}
}

func TestLiveView_DefaultSize(t *testing.T) {
	v := NewLiveView(0)
	if v.Cap() != DefaultLiveViewSize {
		t.Errorf("Cap() = %d, want %d", v.Cap(), DefaultLiveViewSize)
	}
	for i := range DefaultLiveViewSize + 25 {
		v.WriteRecord(rec(strconv.Itoa(i)))
	}
	got := v.Records()
	if len(got) != DefaultLiveViewSize {
		t.Fatalf("Len = %d, want %d", len(got), DefaultLiveViewSize)
	}
	if got[0].Message != "25" {
		t.Errorf("oldest retained = %q, want 25", got[0].Message)
	}
}

func TestLiveView_RecordsIsCopy(t *testing.T) {
	v := NewLiveView(2)
	v.WriteRecord(rec("a"))
	got := v.Records()
	got[0].Message = "mutated"
	if v.Records()[0].Message != "a" {
		t.Error("Records() exposed internal storage")
	}
}

func TestLiveView_Subscribe(t *testing.T) {
	v := NewLiveView(5)
	v.WriteRecord(rec("old"))

	snapshot, ch, cancel := v.Subscribe()
	if len(snapshot) != 1 || snapshot[0].Message != "old" {
		t.Fatalf("snapshot = %+v, want [old]", snapshot)
	}

	v.WriteRecord(rec("new"))
	select {
	case r := <-ch:
		if r.Message != "new" {
			t.Errorf("received %q, want new", r.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive record")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}

	// Writing after cancel must not panic.
	v.WriteRecord(rec("later"))
}

func TestLiveView_SlowSubscriberDoesNotBlock(t *testing.T) {
	v := NewLiveView(5)
	_, _, cancel := v.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := range subscriberBuffer * 3 {
			v.WriteRecord(rec(strconv.Itoa(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WriteRecord blocked on a slow subscriber")
	}
}
