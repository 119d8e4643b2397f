// Package hudview draws replicated health pools as terminal bars.
package hudview

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"vitals/server/attributes"
	"vitals/server/internal/death"
	"vitals/server/internal/replication"
)

const (
	nameWidth = 16
	barWidth  = 20
	headerRow = 0
	firstRow  = 2
)

// Status is the connection summary shown in the header.
type Status struct {
	Address     string
	KeyframeSeq uint64
	RTT         time.Duration
	Resyncs     uint64
}

// View renders one line per actor onto a tcell screen.
type View struct {
	screen tcell.Screen
}

func New(screen tcell.Screen) *View {
	return &View{screen: screen}
}

// Draw clears the screen and renders the header plus one row per snapshot.
// Rows that do not fit are dropped.
func (v *View) Draw(snaps []replication.Snapshot, status Status) {
	v.screen.Clear()
	width, height := v.screen.Size()

	header := fmt.Sprintf("%s  actors:%d  keyframe:%d  rtt:%dms  resyncs:%d",
		status.Address, len(snaps), status.KeyframeSeq, status.RTT.Milliseconds(), status.Resyncs)
	v.drawText(0, headerRow, runewidth.Truncate(header, width, "…"), tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true))
	v.drawHLine(headerRow+1, width, tcell.ColorGray)

	for i, snap := range snaps {
		y := firstRow + i
		if y >= height {
			break
		}
		v.drawRow(y, snap)
	}
	v.screen.Show()
}

func (v *View) drawRow(y int, snap replication.Snapshot) {
	get := func(id attributes.ID) float64 { return snap.Attributes[id.String()] }
	health, maxHealth := get(attributes.Health), get(attributes.MaxHealth)
	shield, maxShield := get(attributes.Shield), get(attributes.MaxShield)
	extra := get(attributes.ExtraHealth)

	x := 0
	x = v.putGlyph(x, y, deathGlyph(snap.DeathState), tcell.StyleDefault)
	x = v.drawText(x, y, runewidth.FillRight(runewidth.Truncate(snap.ActorID, nameWidth, "…"), nameWidth+1), tcell.StyleDefault)

	x = v.drawText(x, y, Bar(health, maxHealth, barWidth), tcell.StyleDefault.Foreground(healthColor(health, maxHealth)))
	x = v.drawText(x, y, " ", tcell.StyleDefault)
	x = v.drawText(x, y, Bar(shield, maxShield, barWidth/2), tcell.StyleDefault.Foreground(tcell.ColorDodgerBlue))

	total := health + extra + shield
	totalMax := maxHealth + extra + maxShield
	label := fmt.Sprintf(" %s/%s", formatAmount(total), formatAmount(totalMax))
	if extra > 0 {
		label += fmt.Sprintf(" +%s", formatAmount(extra))
	}
	v.drawText(x, y, label, tcell.StyleDefault.Foreground(tcell.ColorWhite))
}

// Bar renders value/max as a fixed-width bar of filled and empty cells.
func Bar(value, max float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if max > 0 && value > 0 {
		filled = int(math.Round(math.Min(value/max, 1) * float64(width)))
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func deathGlyph(state death.State) string {
	switch state {
	case death.DeathStarted:
		return "⚠️"
	case death.DeathFinished:
		return "💀"
	default:
		return " "
	}
}

func healthColor(value, max float64) tcell.Color {
	if max <= 0 {
		return tcell.ColorGray
	}
	switch ratio := value / max; {
	case ratio > 0.5:
		return tcell.ColorGreen
	case ratio > 0.2:
		return tcell.ColorYellow
	default:
		return tcell.ColorRed
	}
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func (v *View) drawHLine(y, width int, color tcell.Color) {
	style := tcell.StyleDefault.Foreground(color)
	for x := 0; x < width; x++ {
		v.screen.SetContent(x, y, '─', nil, style)
	}
}

// drawText returns the column after the text.
func (v *View) drawText(x, y int, text string, style tcell.Style) int {
	for _, ch := range text {
		v.screen.SetContent(x, y, ch, nil, style)
		x += runewidth.RuneWidth(ch)
	}
	return x
}

// putGlyph always advances two columns so rows line up whether or not the
// glyph is wide.
func (v *View) putGlyph(x, y int, glyph string, style tcell.Style) int {
	runes := []rune(glyph)
	if len(runes) == 0 {
		return x + 2
	}
	var combc []rune
	if len(runes) > 1 {
		combc = runes[1:]
	}
	v.screen.SetContent(x, y, runes[0], combc, style)
	if runewidth.StringWidth(glyph) < 2 {
		v.screen.SetContent(x+1, y, ' ', nil, style)
	}
	return x + 2
}
