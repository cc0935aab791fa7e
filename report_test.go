package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"claimer/internal/orchestrator"
	"claimer/internal/step"
	"claimer/internal/workflow"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestParallelism(t *testing.T) {
	tests := []struct {
		max, count, want int
	}{
		{max: 0, count: 5, want: 5},
		{max: -1, count: 3, want: 3},
		{max: 2, count: 5, want: 2},
		{max: 10, count: 4, want: 4},
	}

	for _, tt := range tests {
		if got := parallelism(tt.max, tt.count); got != tt.want {
			t.Errorf("parallelism(%d, %d) = %d, want %d", tt.max, tt.count, got, tt.want)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	withoutColor(t)
	originalLocale := globalLocale
	globalLocale = nil
	defer func() {
		globalLocale = originalLocale
	}()

	tests := []struct {
		name    string
		summary orchestrator.ClaimSummary
		want    []string
	}{
		{
			name:    "all claimed",
			summary: orchestrator.ClaimSummary{Requested: 3, Successful: 3, Duration: 90 * time.Second},
			want:    []string{"summary_line"},
		},
		{
			name: "interrupted",
			summary: orchestrator.ClaimSummary{
				Requested:  3,
				Successful: 1,
				Results:    []orchestrator.ClaimResult{{Status: workflow.StatusSuccess}},
				Cancelled:  true,
			},
			want: []string{"summary_cancelled", "summary_line"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printSummary(&out, tt.summary)
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("Expected %q in output:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestPrintSummaryTranslated(t *testing.T) {
	withoutColor(t)
	originalLocale := globalLocale
	defer func() {
		globalLocale = originalLocale
	}()
	l, err := LoadLocale("en_US")
	if err != nil {
		t.Fatalf("Failed to load en_US: %v", err)
	}
	globalLocale = l

	var out bytes.Buffer
	printSummary(&out, orchestrator.ClaimSummary{Requested: 3, Successful: 2, Duration: 61 * time.Second})

	if !strings.Contains(out.String(), "Successfully claimed 2 / 3") {
		t.Errorf("Unexpected summary:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "1m1s") {
		t.Errorf("Expected the batch duration in the summary:\n%s", out.String())
	}
}

func TestProgressPrinter(t *testing.T) {
	withoutColor(t)

	var out bytes.Buffer
	progress := progressPrinter(&out, 2)

	progress(orchestrator.ClaimResult{
		Worker: 1,
		Status: workflow.StatusSuccess,
		Result: workflow.Result{Steps: []step.Outcome{
			{Step: workflow.StepBillingCity, Result: step.NotFound},
			{Step: workflow.StepSubmitOrder, Result: step.Resolved, Required: true},
		}},
	})
	progress(orchestrator.ClaimResult{
		Worker: 2,
		Status: workflow.StatusFailure,
		Reason: "InitiatePurchase: not found",
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 progress lines, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "[1/2] worker 1:") || !strings.Contains(lines[0], workflow.StepBillingCity) {
		t.Errorf("Unexpected first line %q", lines[0])
	}
	if strings.Contains(lines[0], workflow.StepSubmitOrder) {
		t.Errorf("Required steps are not warnings: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[2/2] worker 2: failure: InitiatePurchase") {
		t.Errorf("Unexpected second line %q", lines[1])
	}
}
