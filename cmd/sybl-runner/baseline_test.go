package main

import (
	"context"
	"strings"
	"testing"

	"github.com/Sybl-ml/mallus/pkg/model"
)

func TestBaselinePredict(t *testing.T) {
	in := model.Input{Data: []byte("record_id,low,high\n1,0.1,5\n2,0.2,7\n3,0.3,6\n")}
	out, err := baselinePredict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	want := []string{"record_id,prediction", "1,5", "2,7", "3,6"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestBaselinePredictSkipsNonNumeric(t *testing.T) {
	in := model.Input{Data: []byte("record_id,label,score\n1,cat,2\n2,dog,4\n")}
	out, err := baselinePredict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !strings.Contains(string(out), "1,2\n") || !strings.Contains(string(out), "2,4\n") {
		t.Fatalf("numeric column not selected: %q", out)
	}
}

func TestBaselinePredictRejectsEmptyInput(t *testing.T) {
	if _, err := baselinePredict(context.Background(), model.Input{Data: []byte("record_id,a\n")}); err == nil {
		t.Fatalf("expected error for header-only input")
	}
	if _, err := baselinePredict(context.Background(), model.Input{Data: []byte("\"unterminated\n")}); err == nil {
		t.Fatalf("expected error for malformed csv")
	}
}
