// Package export renders published golden records into downloadable
// artifacts: the raw JSON record, a CSV covenant schedule, and an XLSX
// workbook for distribution to lenders.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"dealgraph/api/internal/publish"
)

// Formats accepted by the export endpoint.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Result is a rendered artifact ready to stream to the client.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Render produces the golden record in the requested format.
func Render(rec publish.GoldenRecord, format string) (Result, error) {
	switch format {
	case FormatJSON:
		return renderJSON(rec)
	case FormatCSV:
		return renderCSV(rec)
	case FormatXLSX:
		return renderXLSX(rec)
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
}

func renderJSON(rec publish.GoldenRecord) (Result, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Result{}, eris.Wrap(err, "export: marshal golden record")
	}
	return Result{
		Data:     append(data, '\n'),
		Filename: baseFilename(rec) + ".json",
		MimeType: "application/json",
	}, nil
}

// renderCSV writes the variable schedule: one row per approved variable.
func renderCSV(rec publish.GoldenRecord) (Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"Variable", "Type", "Unit", "Approved Value", "Approved At", "Clause"}
	if err := w.Write(header); err != nil {
		return Result{}, eris.Wrap(err, "export: write csv header")
	}

	titles := clauseTitles(rec)
	for _, v := range rec.Variables {
		row := []string{
			v.Label,
			v.Type,
			v.Unit,
			v.BaselineValue,
			formatTime(v.ApprovedAt),
			titles[v.ClauseID],
		}
		if err := w.Write(row); err != nil {
			return Result{}, eris.Wrap(err, "export: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Result{}, eris.Wrap(err, "export: flush csv")
	}

	return Result{
		Data:     buf.Bytes(),
		Filename: baseFilename(rec) + ".csv",
		MimeType: "text/csv",
	}, nil
}

// renderXLSX builds a two-sheet workbook: the variable schedule and the
// clause texts.
func renderXLSX(rec publish.GoldenRecord) (Result, error) {
	f := xlsx.NewFile()

	vars, err := f.AddSheet("Variables")
	if err != nil {
		return Result{}, eris.Wrap(err, "export: add variables sheet")
	}
	headerRow := vars.AddRow()
	for _, h := range []string{"Variable", "Type", "Unit", "Approved Value", "Approved At", "Clause"} {
		headerRow.AddCell().Value = h
	}
	titles := clauseTitles(rec)
	for _, v := range rec.Variables {
		row := vars.AddRow()
		row.AddCell().Value = v.Label
		row.AddCell().Value = v.Type
		row.AddCell().Value = v.Unit
		row.AddCell().Value = v.BaselineValue
		row.AddCell().Value = formatTime(v.ApprovedAt)
		row.AddCell().Value = titles[v.ClauseID]
	}

	clauses, err := f.AddSheet("Clauses")
	if err != nil {
		return Result{}, eris.Wrap(err, "export: add clauses sheet")
	}
	clauseHeader := clauses.AddRow()
	for _, h := range []string{"#", "Title", "Type", "Text"} {
		clauseHeader.AddCell().Value = h
	}
	for _, c := range rec.Clauses {
		row := clauses.AddRow()
		row.AddCell().SetInt(c.Position)
		row.AddCell().Value = c.Title
		row.AddCell().Value = c.Type
		row.AddCell().Value = c.Body
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return Result{}, eris.Wrap(err, "export: write workbook")
	}
	return Result{
		Data:     buf.Bytes(),
		Filename: baseFilename(rec) + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}

func clauseTitles(rec publish.GoldenRecord) map[string]string {
	out := make(map[string]string, len(rec.Clauses))
	for _, c := range rec.Clauses {
		out[c.ID] = c.Title
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func baseFilename(rec publish.GoldenRecord) string {
	name := sanitizeFilename(rec.WorkspaceName)
	if name == "" {
		name = sanitizeFilename(rec.WorkspaceID)
	}
	return fmt.Sprintf("%s-golden-record-%d", name, rec.Sequence)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// ExportedFormats reports the formats offered for a workspace, used by
// the UI to render download options.
func ExportedFormats() []string {
	return []string{FormatJSON, FormatCSV, FormatXLSX}
}
