package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"typeless/transcriber"
)

func update(m tuiModel, msgs ...tea.Msg) tuiModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(tuiModel)
	}
	return m
}

func TestTUILoadingBeforeSize(t *testing.T) {
	assert.Equal(t, "Loading...", newTUIModel().View())
}

func TestTUIShowsStateAndMessages(t *testing.T) {
	m := update(newTUIModel(),
		tea.WindowSizeMsg{Width: 100, Height: 40},
		HeaderMsg{Endpoint: "wss://asr.example.com/v1/stream", Language: "fr", Session: "12345"},
		StateMsg{State: transcriber.StateOpen},
		TranscriptMsg{Seq: 1, Text: "bonjour"},
		TranscriptMsg{Seq: 2, Text: "tout le monde"},
		StatsMsg{Stats: transcriber.Stats{SentChunks: 7, Reconnects: 1}},
	)

	view := m.View()
	for _, want := range []string{"OPEN", "wss://asr.example.com/v1/stream", "12345", "bonjour", "tout le monde", "#2", "sent 7", "reconnects 1"} {
		assert.Contains(t, view, want)
	}
}

func TestTUIKeepsErrorUntilOpen(t *testing.T) {
	m := update(newTUIModel(),
		tea.WindowSizeMsg{Width: 100, Height: 40},
		StateMsg{State: transcriber.StateConnecting, Err: errors.New("dial refused")},
	)
	assert.Contains(t, m.View(), "dial refused")

	m = update(m, StateMsg{State: transcriber.StateOpen})
	assert.NotContains(t, m.View(), "dial refused")
}

func TestTUIHistoryBounded(t *testing.T) {
	m := newTUIModel()
	for i := range historySize + 5 {
		m = update(m, TranscriptMsg{Seq: i + 1, Text: "x"})
	}
	assert.Len(t, m.history, historySize)
	assert.Equal(t, historySize+5, m.history[len(m.history)-1].Seq)
}

func TestTUISilenceWarning(t *testing.T) {
	m := update(newTUIModel(), tea.WindowSizeMsg{Width: 80, Height: 30}, SilenceMsg{Silent: true})
	assert.Contains(t, m.View(), "no voice detected")
	m = update(m, SilenceMsg{Silent: false})
	assert.NotContains(t, m.View(), "no voice detected")
}

func TestTUIQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		_, cmd := newTUIModel().Update(key)
		if assert.NotNil(t, cmd, key.String()) {
			assert.IsType(t, tea.QuitMsg{}, cmd())
		}
	}
}

func TestRenderMeter(t *testing.T) {
	silent := renderMeter(0, 10)
	loud := renderMeter(1, 10)
	assert.Equal(t, 10, strings.Count(silent, "▏"))
	assert.Equal(t, 10, strings.Count(loud, "█"))
}

func TestWrapText(t *testing.T) {
	for _, tt := range []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello brave new world", 11, []string{"hello brave", "new world"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"été à paris", 5, []string{"été à", "paris"}},
	} {
		assert.Equal(t, tt.want, wrapText(tt.text, tt.width), tt.text)
	}
}
