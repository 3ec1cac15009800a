// Package views renders the printable HTML reports.
package views

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/model"
)

const pageStyle = `body{font-family:sans-serif;margin:2em;color:#222}
table{border-collapse:collapse;margin:1em 0;width:100%}
th,td{border:1px solid #ccc;padding:4px 8px;text-align:left}
th{background:#f3f3f3}
.warn{color:#b00}
.muted{color:#777;font-size:.9em}
@media print{body{margin:0}}`

// page accumulates the first write error so templates stay linear.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *page) textf(format string, args ...any) {
	p.text(fmt.Sprintf(format, args...))
}

func (p *page) cell(tag, s string) {
	p.raw("<" + tag + ">")
	p.text(s)
	p.raw("</" + tag + ">")
}

func (p *page) head(title string) {
	p.raw(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`)
	p.text(title)
	p.raw(`</title><style>` + pageStyle + `</style></head><body>`)
}

func (p *page) row(tag string, cells ...string) {
	p.raw("<tr>")
	for _, c := range cells {
		p.cell(tag, c)
	}
	p.raw("</tr>")
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

// ClassReportPage renders the class report of an exam.
func ClassReportPage(r model.ClassReport, generated time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t := func(id string) string { return i18n.T(ctx, id) }
		a := r.Analysis
		p := &page{w: w}

		p.head(t("ClassReportTitle")+" · "+r.Exam.Title)
		p.raw("<h1>")
		p.text(r.Exam.Title)
		p.raw("</h1><p class=\"muted\">")
		p.text(t("ClassReportTitle"))
		if r.Exam.Date != "" {
			p.text(" · " + t("ExamDate") + ": " + r.Exam.Date)
		}
		p.raw("</p>")

		if a.TotalStudents == 0 {
			p.raw("<p>")
			p.text(t("NoGradedSubmissions"))
			p.raw("</p></body></html>")
			return p.err
		}

		p.raw("<table>")
		p.row("th", t("TotalStudents"), t("AverageScore"), t("HighestScore"), t("LowestScore"))
		p.row("td", fmt.Sprint(a.TotalStudents), fmt.Sprint(a.AverageScore), fmt.Sprint(a.MaxScore), fmt.Sprint(a.MinScore))
		p.raw("</table><p>")
		p.text(i18n.Tp(ctx, "StudentsBelowPassing", r.BelowPassing))
		if r.WeakestPoint != "" {
			p.raw(" ")
			p.text(i18n.Td(ctx, "WeakestPoint", map[string]any{"Point": r.WeakestPoint}))
		}
		p.raw("</p>")
		if a.FailedGradings > 0 {
			p.raw(`<p class="warn">`)
			p.text(i18n.Tp(ctx, "FailedGradings", a.FailedGradings))
			p.raw("</p>")
		}

		p.raw("<h2>")
		p.text(t("ScoreDistribution"))
		p.raw("</h2><table>")
		p.row("th", t("ScoreRange"), t("StudentCount"))
		for _, b := range a.ScoreDistribution {
			p.row("td", b.Range, fmt.Sprint(b.Count))
		}
		p.raw("</table>")

		p.raw("<h2>")
		p.text(t("QuestionAnalysis"))
		p.raw("</h2><table>")
		p.row("th", t("QuestionNo"), t("KnowledgePoint"), t("ErrorRate"), t("AvgScore"), t("ErrorFactors"))
		for _, q := range a.QuestionStats {
			factors := ""
			for i, f := range q.ErrorFactors {
				if i > 0 {
					factors += "; "
				}
				factors += f
			}
			p.row("td", fmt.Sprint(q.QuestionIndex), q.KnowledgePoint, percent(q.ErrorRate), fmt.Sprintf("%.1f", q.AvgScore), factors)
		}
		p.raw("</table>")

		p.raw("<h2>")
		p.text(t("KnowledgePointMastery"))
		p.raw("</h2><table>")
		p.row("th", t("KnowledgePoint"), t("Accuracy"), t("Assessment"))
		for _, k := range a.KnowledgePointStats {
			p.raw("<tr>")
			p.cell("td", k.Point)
			p.cell("td", percent(k.Accuracy))
			if k.Issue == model.FlagNeedsReinforcement {
				p.raw(`<td class="warn">`)
			} else {
				p.raw("<td>")
			}
			p.text(i18n.Flag(ctx, k.Issue))
			p.raw("</td></tr>")
		}
		p.raw(`</table><p class="muted">`)
		p.text(i18n.Td(ctx, "ReportGenerated", map[string]any{"Time": generated.Format("2006-01-02 15:04")}))
		p.raw("</p></body></html>")
		return p.err
	})
}

// StudentReportPage renders one student's graded answer sheet.
func StudentReportPage(exam model.Exam, r model.StudentReport) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t := func(id string) string { return i18n.T(ctx, id) }
		p := &page{w: w}

		p.head(t("StudentReportTitle")+" · "+r.Student.Name)
		p.raw("<h1>")
		p.text(r.Student.Name)
		p.raw("</h1><p class=\"muted\">")
		p.text(exam.Title)
		if r.Student.Grade != "" || r.Student.ClassType != "" {
			p.textf(" · %s %s", r.Student.Grade, r.Student.ClassType)
		}
		p.raw("</p>")

		if r.GradingFailed {
			p.raw(`<p class="warn">`)
			p.text(t("GradingFailedNotice"))
			p.raw("</p>")
		}

		p.raw("<table>")
		p.row("th", t("TotalScore"), t("Accuracy"), t("Status"))
		rank := t("NotRanked")
		if r.Rank > 0 {
			rank = i18n.Td(ctx, "Rank", map[string]any{"Rank": r.Rank, "Of": r.RankedOf})
		}
		p.row("td", fmt.Sprint(r.TotalScore),
			percent(r.Accuracy)+" ("+i18n.Td(ctx, "CorrectCount", map[string]any{"Correct": r.CorrectCount, "Answered": r.AnsweredCount})+")",
			rank)
		p.raw("</table>")

		if len(r.Results) > 0 {
			p.raw("<table>")
			p.row("th", t("QuestionNo"), t("KnowledgePoint"), t("Score"), t("Result"), t("ErrorAnalysis"))
			for _, res := range r.Results {
				verdict := t("Incorrect")
				if res.Correct {
					verdict = t("Correct")
				}
				p.row("td", fmt.Sprint(res.QuestionIndex), res.KnowledgePoint,
					fmt.Sprintf("%d / %d", res.Score, res.MaxScore), verdict, res.ErrorAnalysis)
			}
			p.raw("</table>")
		}
		p.raw("</body></html>")
		return p.err
	})
}
