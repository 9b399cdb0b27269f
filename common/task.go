package common

import (
	"fmt"
	"strings"
)

// Task is the handle of an asynchronous job issued by a remote platform.
// Description is reused as the stem of the output filename.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// StatusReport is the result of one status query for a Task
type StatusReport struct {
	State Status `json:"state"`
	// Error message reported by the platform when State is FAILED
	Error string `json:"error_message,omitempty"`
}

// Target is the destination kind of an export
type Target int

const (
	// TargetGCS exports to an object-storage bucket
	TargetGCS Target = iota
	// TargetDrive exports to a drive folder
	TargetDrive
)

// ParseTarget returns the Target from the user input
func ParseTarget(input string) (Target, error) {
	switch strings.ToLower(input) {
	case "gcs":
		return TargetGCS, nil
	case "gdrive", "drive":
		return TargetDrive, nil
	}
	return 0, fmt.Errorf("invalid target %q: must be 'gcs' or 'gdrive'", input)
}

func (t Target) String() string {
	switch t {
	case TargetGCS:
		return "gcs"
	case TargetDrive:
		return "gdrive"
	}
	return "unknown"
}

// ExportParams are the destination parameters of an export, shared by all
// the requests built for one dataset.
type ExportParams struct {
	CRS    string
	Scale  int
	Target Target
	Folder string
	// NoData is the sentinel written into masked pixels (nil to leave them unset)
	NoData *int
}

// NewExportParams validates the target and returns the params.
// The zero Scale defaults to 1000m, the empty CRS to EPSG:4326.
func NewExportParams(crs string, scale int, target, folder string, nodata *int) (ExportParams, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return ExportParams{}, err
	}
	if folder == "" {
		return ExportParams{}, fmt.Errorf("missing destination folder/bucket")
	}
	if crs == "" {
		crs = "EPSG:4326"
	}
	if scale == 0 {
		scale = 1000
	}
	return ExportParams{CRS: crs, Scale: scale, Target: t, Folder: folder, NoData: nodata}, nil
}
