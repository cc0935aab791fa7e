package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// promptRunCount asks how many runs to start. Empty, unreadable or non-positive
// answers mean one run.
func promptRunCount(in io.Reader, out io.Writer) int {
	fmt.Fprint(out, T("prompt_run_count"))

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return 1
	}

	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(out, T("prompt_run_count_invalid"))
		}
		return 1
	}
	return n
}
