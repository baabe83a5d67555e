package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
)

// CSVRenderer renders one row per finding, for spreadsheet import or
// diffing between runs.
type CSVRenderer struct{}

var csvHeader = []string{
	"severity", "vuln_type", "cwe", "file_path", "line", "confidence", "title", "analysis", "poc",
}

func (CSVRenderer) Render(w io.Writer, findings []*model.Finding, _ Summary) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range findings {
		poc := ""
		if f.PoC != nil {
			poc = *f.PoC
		}
		row := []string{
			string(f.Severity), string(f.VulnType), f.CWE, f.FilePath,
			strconv.Itoa(f.Line), strconv.Itoa(f.Confidence), f.Title, f.Analysis, poc,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}
