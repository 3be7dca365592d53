package domain

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func complete() RawMessage {
	return RawMessage{
		ConfigFile: "s3://host/configs/p.ini",
		GCodeFile:  "s3://host/gcode/p.gcode",
		Handle:     "h-1",
		JobID:      "job-1",
		JobOID:     "oid-1",
		STLFile:    "s3://host/models/p.stl",
	}
}

func TestMissingFieldsCompleteMessage(t *testing.T) {
	if missing := complete().MissingFields(); len(missing) != 0 {
		t.Fatalf("expected no missing fields, got %v", missing)
	}
}

func TestMissingFieldsReportsAll(t *testing.T) {
	m := complete()
	m.STLFile = ""
	m.JobOID = "   "

	missing := m.MissingFields()
	if len(missing) != 2 || missing[0] != "job_oid" || missing[1] != "stl_file" {
		t.Fatalf("expected [job_oid stl_file], got %v", missing)
	}
}

func TestErrorClassificationSurvivesWrapping(t *testing.T) {
	canceled := pkgerrors.Wrap(ErrCanceled, "set state")
	if !errors.Is(canceled, ErrCanceled) {
		t.Fatal("wrapped ErrCanceled no longer detected")
	}

	slicerErr := pkgerrors.Wrap(&SlicerError{ExitCode: 2}, "run engine")
	if !IsSlicerFailure(slicerErr) {
		t.Fatal("wrapped SlicerError no longer detected")
	}
	if IsSlicerFailure(canceled) {
		t.Fatal("cancellation misclassified as slicer failure")
	}

	valErr := pkgerrors.Wrap(&ValidationError{Reason: "missing stl_file"}, "build request")
	if !IsValidation(valErr) {
		t.Fatal("wrapped ValidationError no longer detected")
	}
}
