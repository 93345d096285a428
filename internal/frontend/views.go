package frontend

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/gait"
)

// maxTableRows caps the rendered sample table. The chart series carry every sample.
const maxTableRows = 1000

const styles = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;margin-top:1rem}
th,td{border:1px solid #cbd2d9;padding:.25rem .5rem;text-align:right}
th{background:#f5f7fa}
td.text{text-align:left}
.summary dt{font-weight:600}
.defects{color:#b44d12}
form.patient label{display:block;margin:.25rem 0}
button.danger{color:#fff;background:#b42318;border:0;padding:.25rem .75rem}`

// chartSeries is the JSON data island consumed by the chart script.
type chartSeries struct {
	Accelerometer []gait.AxisPoint `json:"accelerometer"`
	Gyroscope     []gait.AxisPoint `json:"gyroscope"`
}

// readingView is everything the reading page shows.
type readingView struct {
	Handle   backend.ReadingHandle
	Analysis *gait.Analysis
	Policy   gait.MalformedLinePolicy
}

// html accumulates the first write error so components read top to bottom.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) printf(format string, args ...any) {
	if h.err == nil {
		_, h.err = fmt.Fprintf(h.w, format, args...)
	}
}

func (h *html) render(ctx context.Context, c templ.Component) {
	if h.err == nil {
		h.err = c.Render(ctx, h.w)
	}
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(title)
		h.raw(` · Gait Monitor</title><style>` + styles + `</style>`)
		h.raw(`<script src="https://unpkg.com/htmx.org@2.0.3" defer></script></head><body>`)
		h.raw(`<header><a href="/">Gait Monitor</a></header><main>`)
		h.render(ctx, body)
		h.raw(`</main></body></html>`)
		return h.err
	})
}

func index(patients []backend.Patient) templ.Component {
	return layout("Patients", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h1>Patients</h1>`)
		h.raw(`<div id="patients" hx-get="/api/patients" hx-trigger="every 10s" hx-swap="innerHTML">`)
		h.render(ctx, patientsList(patients))
		h.raw(`</div>`)
		h.render(ctx, patientForm())
		return h.err
	}))
}

func patientForm() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h2>Add patient</h2><form class="patient" method="post" action="/patients">`)
		h.raw(`<label>Name <input name="name" required maxlength="200"></label>`)
		h.raw(`<label>Age <input name="age" type="number" min="0" max="150" required></label>`)
		h.raw(`<label>Email <input name="email" type="email"></label>`)
		h.raw(`<label>Phone <input name="phone" type="tel"></label>`)
		h.raw(`<button type="submit">Add</button></form>`)
		return h.err
	})
}

func patientsList(patients []backend.Patient) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		if len(patients) == 0 {
			h.raw(`<p>No patients yet.</p>`)
			return h.err
		}
		h.raw(`<table><thead><tr><th>Name</th><th>Age</th><th>Readings</th><th>Created</th></tr></thead><tbody>`)
		for _, p := range patients {
			h.raw(`<tr><td class="text"><a href="/patients/`)
			h.text(url.PathEscape(p.ID))
			h.raw(`">`)
			h.text(p.Name)
			h.raw(`</a></td>`)
			h.printf(`<td>%d</td><td>%d</td>`, p.Age, p.ReadingsCount)
			h.raw(`<td class="text">`)
			h.text(formatTime(p.CreatedAt))
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

func patientPage(p backend.Patient) templ.Component {
	return layout(p.Name, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h1>`)
		h.text(p.Name)
		h.raw(`</h1><dl class="summary">`)
		h.printf(`<dt>Age</dt><dd>%d</dd>`, p.Age)
		if p.Email != "" {
			h.raw(`<dt>Email</dt><dd>`)
			h.text(p.Email)
			h.raw(`</dd>`)
		}
		if p.Phone != "" {
			h.raw(`<dt>Phone</dt><dd>`)
			h.text(p.Phone)
			h.raw(`</dd>`)
		}
		h.printf(`<dt>Readings</dt><dd>%d</dd></dl>`, p.ReadingsCount)
		h.raw(`<form method="post" action="/patients/`)
		h.text(url.PathEscape(p.ID))
		h.raw(`/delete" onsubmit="return confirm('Delete this patient and all readings?')">`)
		h.raw(`<button type="submit" class="danger">Delete patient</button></form>`)

		if len(p.Readings) == 0 {
			h.raw(`<p>No readings uploaded.</p>`)
			return h.err
		}
		h.raw(`<table><thead><tr><th>Uploaded</th><th>File</th><th>Size (bytes)</th></tr></thead><tbody>`)
		for _, r := range p.Readings {
			h.raw(`<tr><td class="text"><a href="/readings/`)
			h.text(url.PathEscape(r.ID))
			h.raw(`">`)
			h.text(formatTime(r.CreatedAt))
			h.raw(`</a></td><td class="text">`)
			h.text(r.OriginalName)
			h.printf(`</td><td>%d</td></tr>`, r.SizeBytes)
		}
		h.raw(`</tbody></table>`)
		return h.err
	}))
}

func readingPage(v readingView) templ.Component {
	return layout("Reading "+v.Handle.Reading.ID, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		a := v.Analysis

		h.raw(`<h1>Reading `)
		h.text(v.Handle.Reading.ID)
		h.raw(`</h1><p><a href="/patients/`)
		h.text(url.PathEscape(v.Handle.Reading.PatientID))
		h.raw(`">Back to patient</a> · <a href="`)
		h.text(v.Handle.URL)
		h.raw(`">Raw payload</a></p>`)

		h.raw(`<dl class="summary">`)
		h.printf(`<dt>Samples</dt><dd>%d</dd>`, a.Summary.SampleCount)
		h.printf(`<dt>Duration</dt><dd>%d s</dd>`, a.Summary.DurationSeconds)
		if a.Summary.StepCount != nil {
			h.printf(`<dt>Steps</dt><dd>%d</dd>`, *a.Summary.StepCount)
		}
		if a.Summary.CadenceSPM != nil {
			h.printf(`<dt>Cadence</dt><dd>%.1f steps/min</dd>`, *a.Summary.CadenceSPM)
		}
		h.raw(`<dt>Started</dt><dd>`)
		h.text(formatTime(a.Start))
		h.raw(`</dd>`)
		if v.Policy != "" {
			h.raw(`<dt>Malformed lines</dt><dd>`)
			h.text(string(v.Policy))
			h.raw(`</dd>`)
		}
		h.raw(`</dl>`)

		if len(a.Defects) > 0 {
			h.printf(`<p class="defects">%d malformed lines were skipped.</p>`, len(a.Defects))
		}

		h.render(ctx, templ.JSONScript("chart-data", chartSeries{
			Accelerometer: a.Accel,
			Gyroscope:     a.Gyro,
		}))
		h.raw(`<canvas id="chart" width="960" height="320"></canvas>`)

		h.render(ctx, sampleTable(a.Table))
		return h.err
	}))
}

func sampleTable(rows []gait.TableRow) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		shown := rows
		if len(shown) > maxTableRows {
			shown = shown[:maxTableRows]
			h.printf(`<p>Showing the first %d of %d samples.</p>`, maxTableRows, len(rows))
		}
		h.raw(`<table id="samples"><thead><tr><th>#</th><th>t (s)</th>`)
		h.raw(`<th>acc x</th><th>acc y</th><th>acc z</th><th>gyro x</th><th>gyro y</th><th>gyro z</th></tr></thead><tbody>`)
		for _, r := range shown {
			h.printf(`<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				r.Index, num(r.ElapsedSeconds),
				num(r.AccX), num(r.AccY), num(r.AccZ),
				num(r.GyroX), num(r.GyroY), num(r.GyroZ),
			)
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05.000 UTC")
}
