package aggregate

import (
	"slices"
	"strings"

	"cdr-analytics/internal/models"
)

// UnknownLocation labels records stored without a location.
const UnknownLocation = "Unknown"

// LocationStats folds location groups into aligned inbound/outbound
// arrays sorted by location name. Locations with neither inbound nor
// outbound calls are left out.
func LocationStats(groups []models.Group) models.LocationStatistics {
	type counts struct{ in, out int64 }

	byName := make(map[string]*counts, len(groups))
	for _, g := range groups {
		if g.Inbound == 0 && g.Outbound == 0 {
			continue
		}
		name := strings.TrimSpace(g.Location)
		if name == "" {
			name = UnknownLocation
		}
		c, ok := byName[name]
		if !ok {
			c = &counts{}
			byName[name] = c
		}
		c.in += g.Inbound
		c.out += g.Outbound
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)

	stats := models.NewLocationStatistics(len(names))
	for _, name := range names {
		c := byName[name]
		stats.Locations = append(stats.Locations, name)
		stats.Inbound = append(stats.Inbound, c.in)
		stats.Outbound = append(stats.Outbound, c.out)
	}
	return stats
}
