package main

import (
	"fmt"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRenderTableAlignments(t *testing.T) {
	out := renderTable(
		[]string{"TASK", "COUNT"},
		[][]string{{"abc", "1"}, {"def", "22"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	if !strings.Contains(out, "TASK") || !strings.Contains(out, "22") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}
