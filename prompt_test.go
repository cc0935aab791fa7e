package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPromptRunCount(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        int
		wantInvalid bool
	}{
		{name: "empty line defaults to one", input: "\n", want: 1},
		{name: "no input defaults to one", input: "", want: 1},
		{name: "valid count", input: "5\n", want: 5},
		{name: "surrounding spaces", input: "  3  \n", want: 3},
		{name: "missing newline", input: "2", want: 2},
		{name: "zero", input: "0\n", want: 1, wantInvalid: true},
		{name: "negative", input: "-4\n", want: 1, wantInvalid: true},
		{name: "not a number", input: "many\n", want: 1, wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := promptRunCount(strings.NewReader(tt.input), &out)

			if got != tt.want {
				t.Errorf("Expected %d runs, got %d", tt.want, got)
			}
			invalid := strings.Contains(out.String(), T("prompt_run_count_invalid"))
			if invalid != tt.wantInvalid {
				t.Errorf("Invalid notice printed = %v, want %v (output %q)", invalid, tt.wantInvalid, out.String())
			}
		})
	}
}
