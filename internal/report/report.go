// Package report holds arrival reports and renders them as chat messages.
package report

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// TimestampLayout is the layout of the "Last updated" footer.
const TimestampLayout = "02 Jan 2006 15:04:05"

// Arrival is a single train entry as shown by the portal.
type Arrival struct {
	Timing      string
	Destination string
}

// Line holds the arrivals of one MRT line. Entries come in pairs: the next
// train followed by the subsequent train towards the same destination.
type Line struct {
	Name     string
	Arrivals []Arrival
}

// Report is an ordered set of lines.
type Report struct {
	Lines []Line
}

// Ensure returns the index of the named line, appending an empty line if needed.
func (r *Report) Ensure(name string) int {
	for i := range r.Lines {
		if r.Lines[i].Name == name {
			return i
		}
	}
	r.Lines = append(r.Lines, Line{Name: name})
	return len(r.Lines) - 1
}

// Add appends arrivals to the named line.
func (r *Report) Add(name string, arrivals ...Arrival) {
	i := r.Ensure(name)
	r.Lines[i].Arrivals = append(r.Lines[i].Arrivals, arrivals...)
}

// Empty reports whether no line has any arrival.
func (r Report) Empty() bool {
	for _, l := range r.Lines {
		if len(l.Arrivals) > 0 {
			return false
		}
	}
	return true
}

// Format renders the report as Telegram HTML with a footer stamped at.
func Format(r Report, at time.Time) string {
	var b strings.Builder

	if r.Empty() {
		b.WriteString("No upcoming trains reported.\n\n")
	}

	for _, line := range r.Lines {
		name := html.EscapeString(line.Name)
		for i, a := range line.Arrivals {
			timing := html.EscapeString(a.Timing)
			dest := html.EscapeString(a.Destination)

			if i%2 == 0 {
				fmt.Fprintf(&b, "%s in the direction of <b>%s</b>\n", name, dest)
				fmt.Fprintf(&b, "Next train: <b>%s</b>\nFinal Dest: %s\n", timing, dest)
				if i == len(line.Arrivals)-1 {
					b.WriteString("\n")
				}
				continue
			}
			fmt.Fprintf(&b, "Subsequent train: <b>%s</b>\nFinal Dest: %s\n\n", timing, dest)
		}
	}

	fmt.Fprintf(&b, "Last updated: %s", at.Format(TimestampLayout))
	return b.String()
}
