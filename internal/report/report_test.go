package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var stamp = time.Date(2026, time.October, 16, 8, 30, 5, 0, time.UTC)

func TestFormatPairs(t *testing.T) {
	var r Report
	r.Add("North-South Line",
		Arrival{Timing: "1 min", Destination: "Marina South Pier"},
		Arrival{Timing: "5 min", Destination: "Marina South Pier"},
		Arrival{Timing: "1 min", Destination: "Jurong East"},
		Arrival{Timing: "5 min", Destination: "Jurong East"},
	)

	want := "North-South Line in the direction of <b>Marina South Pier</b>\n" +
		"Next train: <b>1 min</b>\nFinal Dest: Marina South Pier\n" +
		"Subsequent train: <b>5 min</b>\nFinal Dest: Marina South Pier\n\n" +
		"North-South Line in the direction of <b>Jurong East</b>\n" +
		"Next train: <b>1 min</b>\nFinal Dest: Jurong East\n" +
		"Subsequent train: <b>5 min</b>\nFinal Dest: Jurong East\n\n" +
		"Last updated: 16 Oct 2026 08:30:05"

	assert.Equal(t, want, Format(r, stamp))
}

func TestFormatKeepsLineOrder(t *testing.T) {
	var r Report
	r.Add("Thomson-East Coast Line", Arrival{"3 min", "Woodlands North"}, Arrival{"9 min", "Woodlands North"})
	r.Add("Circle Line", Arrival{"2 min", "Stadium"}, Arrival{"7 min", "Stadium"})

	out := Format(r, stamp)
	te := strings.Index(out, "Thomson-East Coast Line")
	cc := strings.Index(out, "Circle Line")
	assert.True(t, te >= 0 && cc > te, "lines must render in report order")
}

func TestFormatEmptyLineRendersNothing(t *testing.T) {
	var r Report
	r.Ensure("Circle Line")
	r.Add("North-South Line", Arrival{"1 min", "Jurong East"}, Arrival{"4 min", "Jurong East"})

	out := Format(r, stamp)
	assert.NotContains(t, out, "Circle Line")
	assert.NotContains(t, out, "No upcoming trains")
	assert.Contains(t, out, "North-South Line in the direction of <b>Jurong East</b>")
}

func TestFormatOddTrailingEntry(t *testing.T) {
	var r Report
	r.Add("East-West Line",
		Arrival{"2 min", "Pasir Ris"},
		Arrival{"6 min", "Pasir Ris"},
		Arrival{"3 min", "Tuas Link"},
	)

	out := Format(r, stamp)
	assert.Equal(t, 2, strings.Count(out, "Next train:"))
	assert.Equal(t, 1, strings.Count(out, "Subsequent train:"))
	assert.True(t, strings.HasSuffix(out, "Final Dest: Tuas Link\n\nLast updated: 16 Oct 2026 08:30:05"))
}

func TestFormatNoArrivals(t *testing.T) {
	out := Format(Report{}, stamp)
	assert.Equal(t, "No upcoming trains reported.\n\nLast updated: 16 Oct 2026 08:30:05", out)
}

func TestFormatEscapesHTML(t *testing.T) {
	var r Report
	r.Add("Circle Line", Arrival{"<1 min", "HarbourFront & Co"})

	out := Format(r, stamp)
	assert.Contains(t, out, "<b>&lt;1 min</b>")
	assert.Contains(t, out, "<b>HarbourFront &amp; Co</b>")
}

func TestAddMergesByName(t *testing.T) {
	var r Report
	r.Add("Circle Line", Arrival{"1 min", "Dhoby Ghaut"})
	r.Add("North-South Line")
	r.Add("Circle Line", Arrival{"4 min", "Dhoby Ghaut"})

	assert.Len(t, r.Lines, 2)
	assert.Len(t, r.Lines[0].Arrivals, 2)
	assert.False(t, r.Empty())
}
