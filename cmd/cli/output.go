package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/scanning"
	"github.com/anstrom/portscan/internal/store"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return errors.ErrConfigInvalid("format", format)
	}
}

// scanResultJSON is the JSON shape of one target's outcome.
type scanResultJSON struct {
	Target string               `json:"target"`
	Report *scanning.ScanReport `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
	Code   string               `json:"code,omitempty"`
}

// renderResults writes reports to out. In table mode failed targets are
// reported on errOut; in JSON mode they are part of the document.
func renderResults(out, errOut io.Writer, format string, results []scanning.Result) error {
	if format == formatJSON {
		docs := make([]scanResultJSON, 0, len(results))
		for _, r := range results {
			doc := scanResultJSON{Target: r.Target.String(), Report: r.Report}
			if r.Err != nil {
				doc.Error = r.Err.Error()
				doc.Code = string(errors.GetCode(r.Err))
			}
			docs = append(docs, doc)
		}
		return writeJSON(out, docs)
	}

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", r.Target, r.Err)
			continue
		}
		if err := renderReport(out, r.Report); err != nil {
			return err
		}
	}
	return nil
}

// renderReport prints a report header followed by its services table.
func renderReport(out io.Writer, report *scanning.ScanReport) error {
	fmt.Fprintf(out, "Report %s\n", report.ID)
	fmt.Fprintf(out, "Target: %s  Ports: %s  Started: %s  Duration: %s\n",
		report.Target, report.Ports,
		report.StartedAt.Format(time.RFC3339),
		report.Duration().Round(time.Millisecond))

	if len(report.Services) == 0 {
		fmt.Fprintln(out, "No open services found.")
		fmt.Fprintln(out)
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Address", "Hostname", "Port", "Service", "Product", "Version", "Root", "Banner")
	for _, s := range report.Services {
		_ = table.Append([]string{
			s.Address,
			s.Hostname,
			fmt.Sprintf("%d/%s", s.Port, s.Protocol),
			s.ServiceName,
			s.Product,
			s.Version,
			s.ApplicationRoot,
			truncate(s.Banner, 40),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}

func renderSummaries(out io.Writer, format string, summaries []store.ReportSummary) error {
	if format == formatJSON {
		if summaries == nil {
			summaries = []store.ReportSummary{}
		}
		return writeJSON(out, summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No reports found.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Target", "Ports", "Started", "Services")
	for _, s := range summaries {
		_ = table.Append([]string{
			s.ID,
			s.Target,
			truncate(s.Ports, 30),
			s.StartedAt.Format(time.RFC3339),
			strconv.Itoa(s.Services),
		})
	}
	return table.Render()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
