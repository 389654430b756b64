package portal

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/danpilch/mrtbot/internal/report"
)

// parseArrivals reads the result tables of the page. Each line owns two
// consecutive tables (one per direction). Within a table, cells alternate
// between the next and the subsequent train, each contributing a timing cell
// followed by a destination cell.
func parseArrivals(doc *goquery.Document, tableSelector string, lines []string) (report.Report, error) {
	var r report.Report
	for _, line := range lines {
		r.Ensure(line)
	}

	tables := doc.Find(tableSelector)
	if tables.Length() > 2*len(lines) {
		return report.Report{}, fmt.Errorf("found %d result tables for %d lines", tables.Length(), len(lines))
	}

	var parseErr error
	tables.EachWithBreak(func(i int, table *goquery.Selection) bool {
		line := lines[i/2]

		var columns [2][]string
		table.Find("td").Each(func(j int, cell *goquery.Selection) {
			columns[j%2] = append(columns[j%2], strings.TrimSpace(cell.Text()))
		})

		for _, col := range columns {
			if len(col) == 0 {
				continue
			}
			if len(col) != 2 {
				parseErr = fmt.Errorf("table %d (%s): expected timing and destination, got %d cells", i, line, len(col))
				return false
			}
			r.Add(line, report.Arrival{Timing: col[0], Destination: col[1]})
		}
		return true
	})
	if parseErr != nil {
		return report.Report{}, parseErr
	}

	return r, nil
}
