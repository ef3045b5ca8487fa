package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/health"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/maintenance"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printStats(w io.Writer, stats health.Stats) {
	fmt.Fprintf(w, "Webhook stats, last %dh\n\n", stats.WindowHours)
	if len(stats.Sources) == 0 {
		fmt.Fprintln(w, "(no deliveries)")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "SOURCE\tTOTAL\tSUCCESS\tFAILED\tTHROTTLED\tREJECTED\tDUPLICATE\tBAD SIG\tFAIL %\tP95 MS")
	for _, s := range stats.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t%.0f\n",
			s.Source, s.Total, s.Success, s.Failed, s.Throttled, s.Rejected, s.Duplicate, s.InvalidSignatures,
			s.FailureRate()*100, s.P95DurationMs)
	}
	t := stats.Totals()
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t\n",
		t.Source, t.Total, t.Success, t.Failed, t.Throttled, t.Rejected, t.Duplicate, t.InvalidSignatures, t.FailureRate()*100)
	_ = tw.Flush()
}

func printReport(w io.Writer, report health.Report) {
	fmt.Fprintf(w, "Status: %s\n", report.Status)
	if len(report.Alerts) == 0 {
		fmt.Fprintln(w, "No alerts")
		return
	}

	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "SEVERITY\tALERT\tSOURCE\tMESSAGE")
	for _, a := range report.Alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Severity, a.Name, a.Source, a.Message)
	}
	_ = tw.Flush()
}

func printBuckets(w io.Writer, buckets []admin.BucketView) {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "(no buckets)")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "SOURCE\tKEY\tTOKENS\tCAPACITY\tREFILL/S\tFILL %\tLAST REFILL")
	for _, b := range buckets {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%.2f\t%.0f\t%s\n",
			b.Source, b.Key, b.Tokens, b.Capacity, b.RefillRate, b.FillRatio*100,
			b.LastRefill.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printMaintenance(w io.Writer, report maintenance.Report) {
	fmt.Fprintf(w, "Cutoff:          %s\n", report.Cutoff.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Stale buckets:   %d\n", report.StaleBuckets)
	fmt.Fprintf(w, "Purged events:   %d\n", report.PurgedEvents)
	if report.ArchiveKey != "" {
		fmt.Fprintf(w, "Archived events: %d (%s)\n", report.ArchivedEvents, report.ArchiveKey)
	}
	fmt.Fprintf(w, "Expired cache:   %d\n", report.ExpiredCache)
}

// criticalError turns a critical report into exit code 2
func criticalError(report health.Report) error {
	if !report.Critical() {
		return nil
	}
	return &exitCodeError{
		code: exitCritical,
		msg:  fmt.Sprintf("%d alert(s), status critical", len(report.Alerts)),
	}
}
