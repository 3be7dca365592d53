package slicer

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/you/slicerd/internal/domain"
)

func TestSliceRendersTemplate(t *testing.T) {
	var capturedName string
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedName = name
		capturedArgs = args
		return exec.CommandContext(ctx, "true")
	}
	defer func() { commandContext = original }()

	eng := New("slic3r --load {config} {stl} --output {gcode}")
	err := eng.Slice(context.Background(), "/work/cfg.ini", "/work/part.stl", "/work/part.gcode")
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	if capturedName != "slic3r" {
		t.Fatalf("expected binary slic3r, got %q", capturedName)
	}
	want := []string{"--load", "/work/cfg.ini", "/work/part.stl", "--output", "/work/part.gcode"}
	if len(capturedArgs) != len(want) {
		t.Fatalf("expected args %v, got %v", want, capturedArgs)
	}
	for i := range want {
		if capturedArgs[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], capturedArgs[i])
		}
	}
}

func TestSliceAbnormalExitIsSlicerError(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "false")
	}
	defer func() { commandContext = original }()

	eng := New("slic3r {config} {stl} {gcode}")
	err := eng.Slice(context.Background(), "a", "b", "c")
	if err == nil {
		t.Fatal("expected error on non-zero exit")
	}
	if !domain.IsSlicerFailure(err) {
		t.Fatalf("expected SlicerError, got %T: %v", err, err)
	}
	var se *domain.SlicerError
	if !errors.As(err, &se) || se.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %+v", se)
	}
}

func TestSliceMissingBinaryIsNotSlicerError(t *testing.T) {
	eng := New("definitely-not-a-real-slicer-binary {config} {stl} {gcode}")
	err := eng.Slice(context.Background(), "a", "b", "c")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if domain.IsSlicerFailure(err) {
		t.Fatalf("launch failure must stay retryable, got SlicerError: %v", err)
	}
}

func TestSliceEmptyTemplate(t *testing.T) {
	eng := New("   ")
	if err := eng.Slice(context.Background(), "a", "b", "c"); err == nil {
		t.Fatal("expected error for empty command template")
	}
}
