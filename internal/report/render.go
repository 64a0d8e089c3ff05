package report

import (
	"bytes"
	"encoding/csv"
	"html/template"
	"io"
	"strconv"
	"time"

	"cdr-analytics/internal/models"
)

// Content is everything a report body is rendered from.
type Content struct {
	Organization string
	Subject      string
	Kind         models.ReportKind
	Range        models.DateRange
	Location     *time.Location
	GeneratedAt  time.Time
	Rates        []models.AnsweredCallRatePoint
	Locations    models.LocationStatistics
}

// TotalRecords sums the records behind the rate series.
func (c Content) TotalRecords() int64 {
	var n int64
	for _, p := range c.Rates {
		n += p.TotalRecords
	}
	return n
}

// AnsweredPercentage is the answered rate over the whole period.
func (c Content) AnsweredPercentage() float64 {
	var connected int64
	for _, p := range c.Rates {
		connected += p.ConnectedWithDuration
	}
	return models.Percentage(connected, c.TotalRecords())
}

type locationRow struct {
	Name              string
	Inbound, Outbound int64
}

func (c Content) locationRows() []locationRow {
	rows := make([]locationRow, len(c.Locations.Locations))
	for i, name := range c.Locations.Locations {
		rows[i] = locationRow{Name: name, Inbound: c.Locations.Inbound[i], Outbound: c.Locations.Outbound[i]}
	}
	return rows
}

func (c Content) local(t time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02 Jan 2006 15:04")
}

var bodyTemplate = template.Must(template.New("body").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>{{.Organization}} call report</h2>
<p>Period: <strong>{{.Start}}</strong> to <strong>{{.End}}</strong></p>
<p>Total calls: <strong>{{.Total}}</strong>, answered: <strong>{{printf "%.2f" .Answered}}%</strong></p>

<h3>Answered call rate</h3>
{{if .Rates}}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Period</th><th>Calls</th><th>Answered</th><th>Rate</th></tr>
{{range .Rates}}<tr><td>{{.Label}}</td><td>{{.TotalRecords}}</td><td>{{.ConnectedWithDuration}}</td><td>{{printf "%.2f" .Percentage}}%</td></tr>
{{end}}</table>{{else}}<p>No calls in this period.</p>{{end}}

<h3>Calls by location</h3>
{{if .Locations}}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Location</th><th>Inbound</th><th>Outbound</th></tr>
{{range .Locations}}<tr><td>{{.Name}}</td><td>{{.Inbound}}</td><td>{{.Outbound}}</td></tr>
{{end}}</table>{{else}}<p>No inbound or outbound calls.</p>{{end}}

<p style="font-size: 11px; color: #888;">Generated {{.Generated}}. The attached CSV holds the same figures.</p>
</body>
</html>
`))

// RenderBody renders the HTML mail body. It has no side effects.
func RenderBody(c Content) (string, error) {
	data := struct {
		Subject, Organization string
		Start, End, Generated string
		Total                 int64
		Answered              float64
		Rates                 []models.AnsweredCallRatePoint
		Locations             []locationRow
	}{
		Subject:      c.Subject,
		Organization: c.Organization,
		Start:        c.local(c.Range.Start),
		End:          c.local(c.Range.End),
		Generated:    c.local(c.GeneratedAt),
		Total:        c.TotalRecords(),
		Answered:     c.AnsweredPercentage(),
		Rates:        c.Rates,
		Locations:    c.locationRows(),
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteCSV writes the rate series followed by the location table.
func WriteCSV(w io.Writer, c Content) error {
	cw := csv.NewWriter(w)

	records := [][]string{{"period", "total_records", "answered", "percentage"}}
	for _, p := range c.Rates {
		records = append(records, []string{
			p.Label,
			strconv.FormatInt(p.TotalRecords, 10),
			strconv.FormatInt(p.ConnectedWithDuration, 10),
			strconv.FormatFloat(p.Percentage, 'f', 2, 64),
		})
	}
	records = append(records, []string{}, []string{"location", "inbound", "outbound"})
	for _, r := range c.locationRows() {
		records = append(records, []string{
			r.Name,
			strconv.FormatInt(r.Inbound, 10),
			strconv.FormatInt(r.Outbound, 10),
		})
	}

	return cw.WriteAll(records)
}
