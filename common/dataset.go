package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/araddon/dateparse"
)

// QAMask is a bit-range masking rule applied server-side to a QA band.
// Pixels are kept when the extracted bits equal one of Keep.
type QAMask struct {
	Band    string `json:"band"`
	FromBit int    `json:"from_bit"`
	ToBit   int    `json:"to_bit"`
	Keep    []int  `json:"keep"`
}

// DatasetSpec describes one dataset acquisition: the per-dataset variation
// (bands, masking rule, date range, reduction, resolution) is data, the
// control flow is shared.
type DatasetSpec struct {
	Name       string   `json:"name"`
	Collection string   `json:"collection"`
	Bands      []string `json:"bands,omitempty"`
	QA         *QAMask  `json:"qa,omitempty"`
	DateStart  string   `json:"date_start,omitempty"`
	DateEnd    string   `json:"date_end,omitempty"`
	// Reducer applied server-side over the collection (e.g. "mean", "monthly_mean")
	Reducer string `json:"reducer,omitempty"`
	CRS     string `json:"crs,omitempty"`
	Scale   int    `json:"scale,omitempty"`
	NoData  *int   `json:"nodata,omitempty"`
	// Flatten exports each band as a separate single-band file
	Flatten bool   `json:"flatten,omitempty"`
	Target  string `json:"target"`
	Bucket  string `json:"bucket"`
	OutDir  string `json:"out_dir"`
}

// DateRange parses DateStart/DateEnd. The zero time is returned for an
// unset bound.
func (ds DatasetSpec) DateRange() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if ds.DateStart != "" {
		if start, err = dateparse.ParseAny(ds.DateStart); err != nil {
			return start, end, fmt.Errorf("dataset %s: date_start: %w", ds.Name, err)
		}
	}
	if ds.DateEnd != "" {
		if end, err = dateparse.ParseAny(ds.DateEnd); err != nil {
			return start, end, fmt.Errorf("dataset %s: date_end: %w", ds.Name, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("dataset %s: date_end before date_start", ds.Name)
	}
	return start, end, nil
}

// ExportParams builds the destination parameters of the dataset.
// Fails on an unrecognized target before any network activity.
func (ds DatasetSpec) ExportParams() (ExportParams, error) {
	params, err := NewExportParams(ds.CRS, ds.Scale, ds.Target, ds.Bucket, ds.NoData)
	if err != nil {
		return ExportParams{}, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	return params, nil
}

// LoadDatasets reads a JSON file mapping dataset name to spec
func LoadDatasets(path string) (map[string]DatasetSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadDatasets: %w", err)
	}
	specs := map[string]DatasetSpec{}
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("LoadDatasets[%s]: %w", path, err)
	}
	for name, spec := range specs {
		if spec.Name == "" {
			spec.Name = name
			specs[name] = spec
		}
	}
	return specs, nil
}
