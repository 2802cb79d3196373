package call

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

func utt(v int16) audio.Utterance {
	return audio.Utterance{Samples: []int16{v}, Format: CaptureFormat}
}

func TestUtteranceQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := newUtteranceQueue()
	for i := range 5 {
		q.Push(utt(int16(i)))
	}
	q.Close()
	q.Push(utt(99))

	ctx := context.Background()
	for i := range 5 {
		u, ok := q.Pop(ctx)
		if !ok || u.Samples[0] != int16(i) {
			t.Fatalf("Pop %d = %v, %v", i, u.Samples, ok)
		}
	}
	if _, ok := q.Pop(ctx); ok {
		t.Fatal("Pop on closed, drained queue returned an item")
	}
}

func TestUtteranceQueue_PopWaitsForPush(t *testing.T) {
	t.Parallel()
	q := newUtteranceQueue()
	got := make(chan int16, 1)
	go func() {
		u, ok := q.Pop(context.Background())
		if ok {
			got <- u.Samples[0]
		}
		close(got)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push(utt(7))
	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("got %d, want 7", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestUtteranceQueue_PopCancelled(t *testing.T) {
	t.Parallel()
	q := newUtteranceQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := q.Pop(ctx); ok {
		t.Fatal("Pop returned an item from an empty queue")
	}
}
