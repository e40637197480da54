package evo

import "testing"

func TestEarlyStopNeverFiresBeforeMinimumGenerations(t *testing.T) {
	tracker := NewEarlyStop(EarlyStopConfig{Window: 3, Tolerance: 0.01})
	for gen := 1; gen < MinGenerations; gen++ {
		tracker.Observe(0.5)
		if tracker.ShouldStop() {
			t.Fatalf("early stop fired after %d generations", gen)
		}
	}
	tracker.Observe(0.5)
	if !tracker.ShouldStop() {
		t.Fatalf("expected stop after %d flat generations", tracker.Generations())
	}
}

func TestEarlyStopKeepsRunningWhileImproving(t *testing.T) {
	tracker := NewEarlyStop(EarlyStopConfig{Window: 3, Tolerance: 0.01})
	for gen := 0; gen < 20; gen++ {
		tracker.Observe(0.1 + 0.02*float64(gen))
		if tracker.ShouldStop() {
			t.Fatalf("early stop fired at generation %d despite improvement", gen)
		}
	}
}

func TestEarlyStopDisabledWithoutWindow(t *testing.T) {
	tracker := NewEarlyStop(EarlyStopConfig{})
	for gen := 0; gen < 30; gen++ {
		tracker.Observe(0.5)
	}
	if tracker.ShouldStop() {
		t.Fatal("early stop must be disabled with a zero window")
	}
}

func TestEarlyStopWindowLargerThanHistory(t *testing.T) {
	tracker := NewEarlyStop(EarlyStopConfig{Window: 12})
	for gen := 0; gen < 12; gen++ {
		tracker.Observe(0.5)
	}
	if tracker.ShouldStop() {
		t.Fatal("a window covering the whole history has nothing to compare against")
	}
	tracker.Observe(0.5)
	if !tracker.ShouldStop() {
		t.Fatal("expected stop once history exceeds the window")
	}
}
