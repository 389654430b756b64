package stations

import "strings"

// Response is the body returned by the station list endpoint.
type Response struct {
	Results []Station `json:"results"`
}

// Station is one raw station entry. Line and Code hold comma separated values,
// e.g. Line "NS,CE" and Code "NS27,CE2".
type Station struct {
	Name string `json:"name"`
	Line string `json:"line"`
	Code string `json:"code"`
}

// Lines returns the station's line codes.
func (s Station) Lines() []string {
	return splitCSV(s.Line)
}

// Codes returns the station's station codes.
func (s Station) Codes() []string {
	return splitCSV(s.Code)
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
