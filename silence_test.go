package main

import "testing"

func feedN(m *silenceMonitor, speech bool, n int) silenceEvent {
	var last silenceEvent
	for range n {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := newSilenceMonitor(false)
	for i := range 79 {
		if ev := m.Tick(false); ev != silenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := m.Tick(false); ev != silenceWarn {
		t.Fatalf("expected silenceWarn at tick 80, got %d", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newSilenceMonitor(false)
	feedN(m, false, 80)

	for range 80 {
		if m.Tick(true) == silenceClear {
			return
		}
	}
	t.Fatal("expected silenceClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := newSilenceMonitor(true)
	for i := range 500 {
		if ev := m.Tick(true); ev != silenceNone {
			t.Fatalf("unexpected event %d during speech at tick %d", ev, i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	m := newSilenceMonitor(false)
	warns := 0
	for range 400 {
		if m.Tick(false) == silenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 silenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := newSilenceMonitor(false)
	feedN(m, false, 80)

	for i := range 80 {
		if m.Tick(i%10 == 0) == silenceClear {
			t.Fatalf("warning cleared by sparse speech at tick %d", i)
		}
	}
}

func TestSilenceStop(t *testing.T) {
	m := newSilenceMonitor(true)
	for i := range 299 {
		if m.Tick(false) == silenceStop {
			t.Fatalf("stopped early at tick %d", i)
		}
	}
	if ev := m.Tick(false); ev != silenceStop {
		t.Fatalf("expected silenceStop at tick 300, got %d", ev)
	}
}

func TestNoStopWithoutAutoStop(t *testing.T) {
	m := newSilenceMonitor(false)
	for i := range 400 {
		if m.Tick(false) == silenceStop {
			t.Fatalf("unexpected silenceStop at tick %d", i)
		}
	}
}

func TestStopPreventedBySpeech(t *testing.T) {
	m := newSilenceMonitor(true)
	for i := range 500 {
		if m.Tick(i%10 < 7) == silenceStop {
			t.Fatalf("unexpected silenceStop with speech at tick %d", i)
		}
	}
}

func TestSilenceWatchStopsLiveSource(t *testing.T) {
	var notified []bool
	w := &silenceWatch{
		monitor: newSilenceMonitor(true),
		notify:  func(silent bool) { notified = append(notified, silent) },
	}
	for i := 1; i < 300; i++ {
		if w.tick(0) {
			t.Fatalf("stopped early at tick %d", i)
		}
		if i == 80 && len(notified) != 1 {
			t.Fatalf("expected warning at tick 80, got %v", notified)
		}
	}
	if !w.tick(0) {
		t.Fatal("expected stop at tick 300")
	}
	if len(notified) != 1 || !notified[0] {
		t.Fatalf("expected a single warning, got %v", notified)
	}
}

func TestSilenceWatchClearsOnSpeech(t *testing.T) {
	var notified []bool
	w := &silenceWatch{
		monitor: newSilenceMonitor(false),
		notify:  func(silent bool) { notified = append(notified, silent) },
	}
	for range 80 {
		w.tick(0)
	}
	for range 80 {
		w.tick(0.5)
	}
	if len(notified) != 2 || !notified[0] || notified[1] {
		t.Fatalf("expected warn then clear, got %v", notified)
	}
}

func TestSilenceWatchIdleAfterSourceEnds(t *testing.T) {
	w := &silenceWatch{
		monitor: newSilenceMonitor(true),
		notify:  func(bool) { t.Fatal("no notification expected after the source ended") },
		ended:   true,
	}
	for i := range 400 {
		if w.tick(0) {
			t.Fatalf("stopped at tick %d after the source ended", i)
		}
	}
}
