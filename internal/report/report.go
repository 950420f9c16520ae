// Package report renders the weekly auto-update email.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gwest/autoupdate-report/internal/updatelog"
)

//go:embed templates/report.html
var content embed.FS

// DateLayout is how the Date Updated column is written (day first, 12h clock).
const DateLayout = "02/01/2006 03:04pm"

// ContentTypeHeader declares the report body as UTF-8 HTML.
const ContentTypeHeader = "Content-Type: text/html; charset=UTF-8"

// Report is one rendered email, ready for a mail sender.
type Report struct {
	Subject string
	Body    string
	Headers []string
}

// Row is one line of the report table, columns in display order.
type Row struct {
	Date        string
	Type        string
	Name        string
	VersionFrom string
	VersionTo   string
}

// Renderer turns a snapshot of the update log into a Report.
type Renderer struct {
	siteName string
	loc      *time.Location
	tmpl     *template.Template
}

// NewRenderer creates a renderer for the named site. Dates are shown in
// loc, or UTC when loc is nil.
func NewRenderer(siteName string, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{
		siteName: siteName,
		loc:      loc,
		tmpl:     template.Must(template.New("").ParseFS(content, "templates/report.html")),
	}
}

// Subject returns the email subject line.
func (r *Renderer) Subject() string {
	return "[" + r.siteName + "] Weekly auto-update report"
}

// Rows maps events to table rows, preserving order.
func (r *Renderer) Rows(events []updatelog.Event) []Row {
	// Casers are stateful, so each call gets its own.
	title := cases.Title(language.English)
	rows := make([]Row, 0, len(events))
	for _, ev := range events {
		rows = append(rows, Row{
			Date:        ev.OccurredAt.In(r.loc).Format(DateLayout),
			Type:        title.String(string(ev.Kind)),
			Name:        ev.DisplayName,
			VersionFrom: ev.VersionFrom,
			VersionTo:   ev.VersionTo,
		})
	}
	return rows
}

// Render builds the report for events.
func (r *Renderer) Render(events []updatelog.Event) (*Report, error) {
	var buf bytes.Buffer
	data := struct{ Rows []Row }{Rows: r.Rows(events)}
	if err := r.tmpl.ExecuteTemplate(&buf, "report", data); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return &Report{
		Subject: r.Subject(),
		Body:    buf.String(),
		Headers: []string{ContentTypeHeader},
	}, nil
}
