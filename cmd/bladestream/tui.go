package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
)

// tuiModel shows live stream counters.
type tuiModel struct {
	cfg   config.Config
	mode  string
	speed hal.Speed
	stats *stats

	start    time.Time
	last     time.Time
	lastRX   uint64
	lastTX   uint64
	rxRate   float64
	txRate   float64
	quitting bool
}

type tickMsg time.Time

func newTUIModel(cfg config.Config, mode string, speed hal.Speed, st *stats) tuiModel {
	now := time.Now()
	return tuiModel{cfg: cfg, mode: mode, speed: speed, stats: st, start: now, last: now}
}

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		now := time.Time(msg)
		rx, tx := m.stats.rxSamples.Load(), m.stats.txSamples.Load()
		if dt := now.Sub(m.last).Seconds(); dt > 0 {
			m.rxRate = float64(rx-m.lastRX) / dt
			m.txRate = float64(tx-m.lastTX) / dt
		}
		m.last, m.lastRX, m.lastTX = now, rx, tx
		return m, tickEvery()
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Stopping streams...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	warnStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder
	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("bladestream " + m.mode))
	b.WriteString("\n\n")

	field("Backend", string(m.cfg.Backend))
	field("Link", m.speed.String())
	field("Uptime", time.Since(m.start).Round(time.Second).String())
	b.WriteString("\n")

	if m.mode != modeTX {
		field("RX", fmt.Sprintf("%s %s, %d samples, %.0f samples/s",
			m.cfg.RX.Layout, m.cfg.RX.Format, m.stats.rxSamples.Load(), m.rxRate))
		if m.cfg.RX.Format.Timestamped() || m.cfg.RX.Format.Packet() {
			field("Timestamp", fmt.Sprintf("%d", m.stats.timestamp.Load()))
		}
		if d := m.stats.discontinuities.Load(); d > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("%d discontinuities", d)))
			b.WriteString("\n")
		}
	}
	if m.mode != modeRX {
		field("TX", fmt.Sprintf("%s %s, %d samples, %.0f samples/s",
			m.cfg.TX.Layout, m.cfg.TX.Format, m.stats.txSamples.Load(), m.txRate))
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}
