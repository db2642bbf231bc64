package application

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultTemplate is the variance alert message body.
const DefaultTemplate = `Shift {{.ShiftDate}} {{.ShiftType}} at {{.Station}} closed outside tolerance.
{{- if .CashExceeded }}
Cash variance: {{.CashVariance}} (tolerance {{.CashTolerance}})
{{- end }}
{{- if .StockExceeded }}
Stock variance: {{.StockVariance}} (tolerance {{.StockTolerance}})
{{- end }}
{{- if .Justification }}
Justification: {{.Justification}}
{{- end }}`

// TemplateData provides fields for rendering an alert.
type TemplateData struct {
	ShiftID        string
	ShiftDate      string
	ShiftType      string
	Station        string
	StationID      string
	CashVariance   string
	CashTolerance  string
	CashExceeded   bool
	StockVariance  string
	StockTolerance string
	StockExceeded  bool
	Justification  string
	ClosedBy       string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("variance-alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("variance template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
