package session

import (
	"context"
	"testing"
	"time"

	"github.com/meshdrop/transfer/internal/model"
)

func TestControlPauseResumeUnblocksWaiter(t *testing.T) {
	c := NewControl("s1")
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.WaitWhilePaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("expected WaitWhilePaused to block while paused")
	case <-time.After(20 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected WaitWhilePaused to unblock after Resume")
	}
}

func TestControlCancelUnblocksWaiter(t *testing.T) {
	c := NewControl("s1")
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.WaitWhilePaused(context.Background()) }()

	c.Cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected cancel to unblock waiter")
	}
	if !c.Canceled() {
		t.Fatal("expected Canceled() true")
	}
}

func TestControlShouldEmitRateLimits(t *testing.T) {
	c := NewControl("s1")
	base := time.UnixMilli(1_000_000)
	if !c.ShouldEmit(base, 100, false) {
		t.Fatal("expected first emit to succeed")
	}
	if c.ShouldEmit(base.Add(50*time.Millisecond), 100, false) {
		t.Fatal("expected emit within interval to be suppressed")
	}
	if !c.ShouldEmit(base.Add(150*time.Millisecond), 100, false) {
		t.Fatal("expected emit after interval to succeed")
	}
	if !c.ShouldEmit(base.Add(160*time.Millisecond), 100, true) {
		t.Fatal("expected terminal emit to always succeed")
	}
}

func TestControlRecordSpeedKeepsLastNonZero(t *testing.T) {
	c := NewControl("s1")
	c.RecordSpeed(500)
	c.RecordSpeed(0)
	if got := c.LastSpeedBPS(); got != 500 {
		t.Fatalf("got %v, want 500 preserved across zero update", got)
	}
}

func TestRegistryStartFinish(t *testing.T) {
	r := NewRegistry()
	r.Start("s1")
	if _, ok := r.Get("s1"); !ok {
		t.Fatal("expected control to be registered")
	}
	r.Finish("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatal("expected control to be removed")
	}
}

func TestPublisherSubscribePublishUnsubscribe(t *testing.T) {
	p := NewPublisher(4)
	sub := p.Subscribe()
	p.Publish(&Event{Type: EventHistorySync})

	select {
	case e := <-sub.Channel:
		if e.Type != EventHistorySync {
			t.Fatalf("got %v", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}

	sub.Unsubscribe()
	if _, ok := <-sub.Channel; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestPublisherDropsWhenSubscriberBufferFull(t *testing.T) {
	p := NewPublisher(1)
	sub := p.Subscribe()
	p.Publish(&Event{Type: EventHistorySync})
	p.Publish(&Event{Type: EventHistorySync}) // should be dropped, buffer full

	<-sub.Channel
	select {
	case <-sub.Channel:
		t.Fatal("expected second event to have been dropped")
	default:
	}
}

func TestRollingSpeedBPS(t *testing.T) {
	got := RollingSpeedBPS(5000, 1000, 3000)
	if got != 2500 {
		t.Fatalf("got %v, want 2500", got)
	}
	// Guards against divide by zero / negative elapsed.
	if got := RollingSpeedBPS(100, 1000, 1000); got != 100000 {
		t.Fatalf("got %v, want 100000", got)
	}
}

func TestBuildSnapshotComputesETA(t *testing.T) {
	sess := &model.Session{TotalBytes: 1000, TransferredBytes: 200}
	snap := BuildSnapshot(sess, "f1", 100, 1, "binary", 4, 2)
	if snap.ETASeconds == nil || *snap.ETASeconds != 8 {
		t.Fatalf("got %+v", snap.ETASeconds)
	}
}

func TestBuildSnapshotOmitsETAWhenSpeedZero(t *testing.T) {
	sess := &model.Session{TotalBytes: 1000, TransferredBytes: 200}
	snap := BuildSnapshot(sess, "f1", 0, 1, "binary", 0, 0)
	if snap.ETASeconds != nil {
		t.Fatal("expected nil ETA when speed is zero")
	}
}
