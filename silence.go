package main

import (
	"time"

	"typeless/log"
)

const (
	silenceTick      = 100 * time.Millisecond
	silenceWarnAfter = 8 * time.Second
	silenceStopAfter = 30 * time.Second
	speechLevel      = 0.02 // RMS above which a tick counts as speech
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher than speechMinRatio for hysteresis
)

type silenceEvent int

const (
	silenceNone silenceEvent = iota
	silenceWarn              // no voice over the warn window
	silenceClear             // speech resumed after a warning
	silenceStop              // no voice over the stop window
)

// silenceMonitor keeps a ring of per-tick speech flags and reports when
// the speech ratio over the warn or stop window falls too low.
type silenceMonitor struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
}

func newSilenceMonitor(autoStop bool) *silenceMonitor {
	windowSz := int(silenceStopAfter / silenceTick)
	return &silenceMonitor{
		warnAt:   int(silenceWarnAfter / silenceTick),
		windowSz: windowSz,
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) silenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	if m.autoStop && m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return silenceStop
	}

	r := m.ratio(m.warnAt)
	if !m.warned && m.ticks >= m.warnAt && r < speechMinRatio {
		m.warned = true
		return silenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return silenceClear
	}
	return silenceNone
}

// silenceWatch feeds the live source level into a silenceMonitor. Once
// the source has ended it stops sampling so the linger window is not
// mistaken for silence.
type silenceWatch struct {
	monitor *silenceMonitor
	ended   bool
	notify  func(silent bool)
}

// tick reports whether streaming should stop.
func (w *silenceWatch) tick(peak float64) bool {
	if w.ended {
		return false
	}
	switch w.monitor.Tick(peak >= speechLevel) {
	case silenceWarn:
		log.Warn("no voice detected")
		w.notify(true)
	case silenceClear:
		w.notify(false)
	case silenceStop:
		log.Info("stopping after prolonged silence")
		return true
	}
	return false
}
