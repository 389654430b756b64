// Package catalog indexes the stations the bot can answer for.
package catalog

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/api/stations"
)

// Station is a supported station. It is never modified after Build.
type Station struct {
	Name  string
	Token string
	Lines []string
	Codes []string
}

// Command returns the chat command that requests arrivals for the station.
func (s Station) Command() string {
	return "get" + s.Token
}

// Catalog is a read-only lookup from normalized tokens to stations.
type Catalog struct {
	byToken map[string]Station
}

// Filter decides which raw stations are kept.
type Filter struct {
	SupportedLines      []string
	NonOperationalCodes []string
}

func (f Filter) accepts(lines, codes []string) bool {
	supported := false
	for _, line := range lines {
		if containsFold(f.SupportedLines, line) {
			supported = true
			break
		}
	}
	if !supported {
		return false
	}
	for _, code := range codes {
		if containsFold(f.NonOperationalCodes, code) {
			return false
		}
	}
	return true
}

// Normalize turns a station name or a user typed token into a lookup token.
func Normalize(name string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(name)))
}

// Build filters raw stations and indexes the survivors by token. When two names
// normalize to the same token the later one wins.
func Build(raw []stations.Station, filter Filter, logger *logrus.Logger) *Catalog {
	c := &Catalog{byToken: make(map[string]Station)}

	for _, rs := range raw {
		lines, codes := rs.Lines(), rs.Codes()
		if !filter.accepts(lines, codes) {
			continue
		}

		token := Normalize(rs.Name)
		if token == "" {
			continue
		}
		if prev, ok := c.byToken[token]; ok && logger != nil {
			logger.WithFields(logrus.Fields{
				"token":    token,
				"previous": prev.Name,
				"current":  rs.Name,
			}).Debug("station token collision, keeping latest")
		}

		c.byToken[token] = Station{
			Name:  rs.Name,
			Token: token,
			Lines: lines,
			Codes: codes,
		}
	}

	return c
}

// Lookup finds the station for a token. The token is normalized first.
func (c *Catalog) Lookup(token string) (Station, bool) {
	s, ok := c.byToken[Normalize(token)]
	return s, ok
}

// Stations returns all stations sorted by token.
func (c *Catalog) Stations() []Station {
	out := make([]Station, 0, len(c.byToken))
	for _, s := range c.byToken {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Len returns the number of indexed stations.
func (c *Catalog) Len() int {
	return len(c.byToken)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
