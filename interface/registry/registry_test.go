package registry

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/globaltraits/trait-ingester/common"
)

func TestSubmitDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/occurrence/download/request" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "alice" || pass != "secret" {
			t.Errorf("missing credentials")
		}
		var req struct {
			Format    string          `json:"format"`
			Predicate json.RawMessage `json:"predicate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Format != "SIMPLE_PARQUET" {
			t.Errorf("expected SIMPLE_PARQUET, got %s", req.Format)
		}
		if len(req.Predicate) == 0 {
			t.Errorf("missing predicate")
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "0001234-56789\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret")
	key, err := client.SubmitDownload(context.Background(), json.RawMessage(`{"type":"equals","key":"TAXON_KEY","value":"6"}`))
	if err != nil {
		t.Fatal(err)
	}
	if key != "0001234-56789" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestStatusReport(t *testing.T) {
	for status, state := range map[string]common.Status{
		"PREPARING": common.StatusPENDING,
		"SUSPENDED": common.StatusPENDING,
		"RUNNING":   common.StatusRUNNING,
		"SUCCEEDED": common.StatusSUCCEEDED,
	} {
		report, err := Meta{Key: "k", Status: status}.StatusReport()
		if err != nil {
			t.Errorf("%s: %v", status, err)
		} else if report.State != state {
			t.Errorf("%s: expected %s, got %s", status, state, report.State)
		}
	}

	for _, status := range []string{"FAILED", "KILLED", "CANCELLED"} {
		report, err := Meta{Key: "k", Status: status}.StatusReport()
		if err != nil {
			t.Fatal(err)
		}
		if report.State != common.StatusFAILED || report.Error == "" {
			t.Errorf("%s: unexpected report %+v", status, report)
		}
	}

	if _, err := (Meta{Status: "PONDERING"}).StatusReport(); err == nil {
		t.Errorf("expected an error for an unknown status")
	}
}

func TestFetchResult(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("occurrence.parquet/000000.parquet")
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("columns"))
	zw.Close()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/occurrence/download/0001234-56789":
			fmt.Fprintf(w, `{"key":"0001234-56789","status":"SUCCEEDED","downloadLink":%q,"totalRecords":42,"size":7}`, server.URL+"/file.zip")
		case "/file.zip":
			w.Write(buf.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client := NewClient(server.URL, "", "")
	outDir := t.TempDir()

	localZip, err := client.FetchResult(ctx, "0001234-56789", outDir, "plant-traits")
	if err != nil {
		t.Fatal(err)
	}
	if localZip != filepath.Join(outDir, "plant-traits.zip") {
		t.Errorf("unexpected zip path %s", localZip)
	}

	// The metadata sidecar is saved next to the data
	b, err := os.ReadFile(filepath.Join(outDir, "plant-traits.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta Meta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.TotalRecords != 42 {
		t.Errorf("unexpected sidecar %+v", meta)
	}

	if err := UnzipAndRename(ctx, localZip); err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(filepath.Join(outDir, "plant-traits.parquet", "000000.parquet")); err != nil || string(b) != "columns" {
		t.Errorf("extracted parquet missing: %s, %v", b, err)
	}
	if _, err := os.Stat(localZip); !os.IsNotExist(err) {
		t.Errorf("zip not removed after extraction")
	}
}
