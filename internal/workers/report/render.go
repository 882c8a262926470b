package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 6.0
)

// document wraps fpdf with the cp1252 translation core fonts need.
type document struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newDocument(orientation, title string, created time.Time) *document {
	pdf := fpdf.New(orientation, "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("pharmaflow", true)
	pdf.SetCreationDate(created)
	pdf.SetAutoPageBreak(true, 15)
	return &document{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (d *document) heading(text string, size float64) {
	d.pdf.SetFont(fontFamily, "B", size)
	d.pdf.MultiCell(0, size*0.5, d.tr(text), "", "L", false)
	d.pdf.Ln(2)
}

func (d *document) paragraph(text string) {
	if strings.TrimSpace(text) == "" {
		text = "n/a"
	}
	d.pdf.SetFont(fontFamily, "", 11)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
	d.pdf.Ln(2)
}

func (d *document) bullets(items []string) {
	if len(items) == 0 {
		d.paragraph("None reported.")
		return
	}
	d.pdf.SetFont(fontFamily, "", 11)
	for _, item := range items {
		d.pdf.MultiCell(0, lineHeight, d.tr("- "+item), "", "L", false)
	}
	d.pdf.Ln(2)
}

func (d *document) table(header []string, widths []float64, rows [][]string) {
	d.pdf.SetFont(fontFamily, "B", 10)
	d.pdf.SetFillColor(230, 236, 245)
	for i, h := range header {
		d.pdf.CellFormat(widths[i], 7, d.tr(h), "1", 0, "L", true, 0, "")
	}
	d.pdf.Ln(-1)
	d.pdf.SetFont(fontFamily, "", 9)
	for _, row := range rows {
		for i, cell := range row {
			d.pdf.CellFormat(widths[i], 6, d.tr(truncate(cell, int(widths[i]/1.8))), "1", 0, "L", false, 0, "")
		}
		d.pdf.Ln(-1)
	}
	d.pdf.Ln(3)
}

func (d *document) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func pct(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }

func trialRows(trials []domain.TrialRecord) [][]string {
	rows := make([][]string, 0, len(trials))
	for _, t := range trials {
		region := ""
		if t.Region != nil {
			region = *t.Region
		}
		rows = append(rows, []string{t.NCTID, t.Phase, t.Status, t.Condition, region})
	}
	return rows
}

func patentRows(patents []domain.Patent) [][]string {
	rows := make([][]string, 0, len(patents))
	for _, p := range patents {
		assignee := ""
		if p.Assignee != nil {
			assignee = *p.Assignee
		}
		rows = append(rows, []string{p.PatentID, p.Title, assignee, p.Status})
	}
	return rows
}

// RenderReport renders the full research report.
func RenderReport(jobID domain.JobID, r domain.CanonicalResult, created time.Time) ([]byte, error) {
	d := newDocument("P", "Research report: "+r.Molecule, created)
	d.pdf.AddPage()

	d.heading("Research report: "+r.Molecule, 20)
	d.pdf.SetFont(fontFamily, "I", 9)
	d.pdf.CellFormat(0, 5, d.tr(fmt.Sprintf("Job %s - generated %s", jobID, created.UTC().Format(time.RFC1123))), "", 1, "L", false, 0, "")
	d.pdf.Ln(4)

	d.heading("Scores", 14)
	d.paragraph(fmt.Sprintf("Overall confidence: %s    Data completeness: %s", pct(r.ConfidenceOverall), pct(r.DataCompletenessScore)))

	d.heading("Clinical summary", 14)
	d.paragraph(r.TrialSummary)

	d.heading("Key findings", 14)
	d.bullets(r.KeyFindings)

	d.heading(fmt.Sprintf("Clinical trials (%d)", len(r.Trials)), 14)
	if len(r.Trials) > 0 {
		d.table([]string{"NCT ID", "Phase", "Status", "Condition", "Region"}, []float64{28, 22, 28, 72, 40}, trialRows(r.Trials))
	} else {
		d.paragraph("No trials found.")
	}

	d.heading(fmt.Sprintf("Patents (%d)", len(r.Patents)), 14)
	if len(r.Patents) > 0 {
		d.table([]string{"Patent", "Title", "Assignee", "Status"}, []float64{30, 90, 44, 26}, patentRows(r.Patents))
	} else {
		d.paragraph("No patents found.")
	}

	d.heading("Market intelligence", 14)
	if m := r.Market; m != nil {
		d.paragraph("Market size: " + m.MarketSize)
		d.paragraph("Patent status: " + m.PatentStatus)
		d.paragraph("Pricing: " + m.PricingInsights)
		d.paragraph("Competitors: " + strings.Join(m.Competitors, ", "))
		d.bullets(m.KeyFindings)
	} else {
		d.paragraph("Not in scope for this job.")
	}

	d.heading("Risk assessment", 14)
	d.paragraph(r.RiskAssessment)

	d.heading("Suggested follow-up", 14)
	d.bullets(r.SuggestedFollowUp)

	return d.bytes()
}

// RenderSlides renders a landscape deck, one topic per page.
func RenderSlides(jobID domain.JobID, r domain.CanonicalResult, created time.Time) ([]byte, error) {
	d := newDocument("L", "Research slides: "+r.Molecule, created)

	slide := func(title string, body func()) {
		d.pdf.AddPage()
		d.heading(title, 24)
		d.pdf.Ln(4)
		body()
	}

	slide(r.Molecule, func() {
		d.paragraph("Research briefing")
		d.paragraph(fmt.Sprintf("Confidence %s, completeness %s", pct(r.ConfidenceOverall), pct(r.DataCompletenessScore)))
		d.paragraph(fmt.Sprintf("Job %s", jobID))
	})
	slide("Key findings", func() { d.bullets(r.KeyFindings) })
	slide("Clinical evidence", func() {
		d.paragraph(r.TrialSummary)
		if len(r.Trials) > 0 {
			n := min(len(r.Trials), 10)
			d.table([]string{"NCT ID", "Phase", "Status", "Condition", "Region"}, []float64{35, 30, 40, 120, 50}, trialRows(r.Trials[:n]))
		}
	})
	slide("Patents", func() {
		if len(r.Patents) == 0 {
			d.paragraph("No patents found.")
			return
		}
		n := min(len(r.Patents), 10)
		d.table([]string{"Patent", "Title", "Assignee", "Status"}, []float64{40, 140, 60, 35}, patentRows(r.Patents[:n]))
	})
	if m := r.Market; m != nil {
		slide("Market", func() {
			d.paragraph("Market size: " + m.MarketSize)
			d.paragraph("Competitors: " + strings.Join(m.Competitors, ", "))
			d.paragraph("Pricing: " + m.PricingInsights)
		})
	}
	slide("Risks and next steps", func() {
		d.paragraph(r.RiskAssessment)
		d.bullets(r.SuggestedFollowUp)
	})

	return d.bytes()
}
