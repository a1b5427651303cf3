package utils_test

import (
	"testing"
	"time"

	"slicer-backend/internal/core/utils"
)

func TestMutexMap_RunSequentiallyWhenSameKey(t *testing.T) {
	m := utils.NewMutexMap(10)
	key := "test"

	sleepDuration := 200 * time.Millisecond

	routine := func(wait chan bool) {
		if err := m.Lock(key); err != nil {
			t.Errorf("Error locking key: %v", err)
		}

		time.Sleep(sleepDuration)
		if err := m.Unlock(key); err != nil {
			t.Errorf("Error unlocking key: %v", err)
		}
		wait <- true
	}

	wait1 := make(chan bool)
	wait2 := make(chan bool)

	start := time.Now()
	go routine(wait1)
	go routine(wait2)

	<-wait1
	<-wait2

	elapsed := time.Since(start)
	if elapsed < 2*sleepDuration {
		t.Errorf("Routines are not running sequentially, expected > %v elapsed, got %v", 2*sleepDuration, elapsed)
	}
}

func TestMutexMap_RunConcurrentlyWhenDifferentKeys(t *testing.T) {
	m := utils.NewMutexMap(10)

	sleepDuration := 200 * time.Millisecond

	routine := func(key string, wait chan bool) {
		if err := m.Lock(key); err != nil {
			t.Errorf("Error locking key: %v", err)
		}

		time.Sleep(sleepDuration)
		if err := m.Unlock(key); err != nil {
			t.Errorf("Error unlocking key: %v", err)
		}
		wait <- true
	}

	wait1 := make(chan bool)
	wait2 := make(chan bool)

	start := time.Now()
	go routine("key1", wait1)
	go routine("key2", wait2)

	<-wait1
	<-wait2

	elapsed := time.Since(start)
	if elapsed >= 2*sleepDuration {
		t.Errorf("Routines are not running concurrently, expected < %v elapsed, got %v", 2*sleepDuration, elapsed)
	}
}

func TestMutexMap_MaxSize(t *testing.T) {
	m := utils.NewMutexMap(2)

	if err := m.Lock("a"); err != nil {
		t.Fatalf("unexpected error locking first key: %v", err)
	}
	if err := m.Lock("b"); err != nil {
		t.Fatalf("unexpected error locking second key: %v", err)
	}

	if err := m.Lock("c"); err == nil {
		t.Errorf("expected error when exceeding max size")
	}

	// Releasing a key frees a slot.
	if err := m.Unlock("a"); err != nil {
		t.Fatalf("unexpected error unlocking key: %v", err)
	}
	if err := m.Lock("c"); err != nil {
		t.Errorf("expected lock to succeed after a slot was freed, got %v", err)
	}
}

func TestMutexMap_UnlockUnknownKey(t *testing.T) {
	m := utils.NewMutexMap(10)

	if err := m.Unlock("missing"); err == nil {
		t.Errorf("expected error unlocking unknown key")
	}
}
