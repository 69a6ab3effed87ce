package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tubestatus/pkg/storage/badger"
	"github.com/nicktill/tubestatus/pkg/storage/memory"
)

func waitGroupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func TestRunBadgerGC_SkipsOtherBackends(t *testing.T) {
	store := memory.New()
	defer store.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go RunBadgerGC(context.Background(), store, time.Millisecond, &wg)

	select {
	case <-waitGroupDone(&wg):
	case <-time.After(2 * time.Second):
		t.Fatal("GC task should return immediately for the memory backend")
	}
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	store, err := badger.New(badger.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go RunBadgerGC(ctx, store, 5*time.Millisecond, &wg)

	// Let a few GC passes run; in-memory mode has no value log to reclaim.
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-waitGroupDone(&wg):
	case <-time.After(2 * time.Second):
		t.Fatal("GC task did not stop after cancel")
	}
}
