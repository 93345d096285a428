package frontend

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/metrics"
)

// renderIndex renders the patients page.
func renderIndex(ctx context.Context, w http.ResponseWriter, patients []backend.Patient, m *metrics.FrontendMetrics) error {
	//nolint:contextcheck // Context is passed to Templ's Render method
	return trackTemplateRender(ctx, w, m, "index", func() error {
		return index(patients).Render(ctx, w)
	})
}

// renderPatientsList renders the patients table fragment.
func renderPatientsList(ctx context.Context, w http.ResponseWriter, patients []backend.Patient, m *metrics.FrontendMetrics) error {
	//nolint:contextcheck // Context is passed to Templ's Render method
	return trackTemplateRender(ctx, w, m, "patients_list", func() error {
		return patientsList(patients).Render(ctx, w)
	})
}

// renderPatient renders a single patient with its readings.
func renderPatient(ctx context.Context, w http.ResponseWriter, p backend.Patient, m *metrics.FrontendMetrics) error {
	//nolint:contextcheck // Context is passed to Templ's Render method
	return trackTemplateRender(ctx, w, m, "patient", func() error {
		return patientPage(p).Render(ctx, w)
	})
}

// renderReading renders the reading page.
func renderReading(ctx context.Context, w http.ResponseWriter, v readingView, m *metrics.FrontendMetrics) error {
	//nolint:contextcheck // Context is passed to Templ's Render method
	return trackTemplateRender(ctx, w, m, "reading", func() error {
		return readingPage(v).Render(ctx, w)
	})
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(ctx context.Context, w http.ResponseWriter, m *metrics.FrontendMetrics, templateName string, renderFunc func() error) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if m == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		reason := "render_error"
		if ctx.Err() != nil {
			reason = "canceled"
		}
		m.TemplateRenderErrors.WithLabelValues(templateName, reason).Inc()
		return err
	}

	return nil
}
