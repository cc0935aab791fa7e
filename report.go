package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"claimer/internal/orchestrator"
	"claimer/internal/workflow"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
)

func printBanner(out io.Writer, config *Config, count int) {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║                 Promotional Credit Claimer                ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintf(out, T("banner_target")+"\n", config.UsageURL)
	fmt.Fprintf(out, T("banner_runs")+"\n", count, parallelism(config.MaxParallel, count))
	if config.DryRun {
		warnColor.Fprintln(out, T("dry_run_mode"))
	}
	if config.DebugMode {
		fmt.Fprintln(out, T("debug_mode"))
	}
	fmt.Fprintln(out)
}

func parallelism(max, count int) int {
	if max <= 0 || max > count {
		return count
	}
	return max
}

// progressPrinter prints one line per completed run.
func progressPrinter(out io.Writer, requested int) func(orchestrator.ClaimResult) {
	var mu sync.Mutex
	done := 0
	return func(c orchestrator.ClaimResult) {
		mu.Lock()
		defer mu.Unlock()
		done++

		prefix := fmt.Sprintf("[%d/%d] worker %d:", done, requested, c.Worker)
		switch c.Status {
		case workflow.StatusSuccess:
			successColor.Fprintf(out, "%s %s", prefix, T("run_succeeded"))
			if warnings := c.Result.Warnings(); len(warnings) > 0 {
				names := make([]string, 0, len(warnings))
				for _, w := range warnings {
					names = append(names, w.Step)
				}
				warnColor.Fprintf(out, " "+T("run_skipped_steps"), strings.Join(names, ", "))
			}
			fmt.Fprintln(out)
		default:
			failureColor.Fprintf(out, "%s %s: %s\n", prefix, c.Status, c.Reason)
		}
	}
}

func printSummary(out io.Writer, summary orchestrator.ClaimSummary) {
	fmt.Fprintln(out)
	if summary.Cancelled {
		warnColor.Fprintf(out, T("summary_cancelled")+"\n", len(summary.Results), summary.Requested)
	}

	line := fmt.Sprintf(T("summary_line"), summary.Successful, summary.Requested)
	switch {
	case summary.Successful == summary.Requested:
		successColor.Fprintln(out, line)
	case summary.Successful == 0:
		failureColor.Fprintln(out, line)
	default:
		warnColor.Fprintln(out, line)
	}
	fmt.Fprintf(out, T("summary_duration")+"\n", summary.Duration.Round(time.Second))
}
