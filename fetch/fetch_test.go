package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestFetchOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	err := FetchOne(context.Background(), Source{URL: server.URL + "/data/wc2.1_10m_bio.csv", OutDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(filepath.Join(outDir, "wc2.1_10m_bio.csv")); err != nil || string(b) != "payload" {
		t.Errorf("unexpected file content: %s, %v", b, err)
	}
}

func TestFetchOneRename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	err := FetchOne(context.Background(), Source{URL: server.URL + "/download?id=42", OutDir: outDir, Name: "bio.csv"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "bio.csv")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestFetchOneUnzip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("soil/clay.tif")
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("raster"))
	zw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	outDir := t.TempDir()
	err = FetchOne(context.Background(), Source{URL: server.URL + "/soil.zip", OutDir: outDir, Unzip: true})
	if err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(filepath.Join(outDir, "soil", "clay.tif")); err != nil || string(b) != "raster" {
		t.Errorf("extracted file missing: %s, %v", b, err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "soil.zip")); !os.IsNotExist(err) {
		t.Errorf("zip not removed after extraction")
	}
}

func TestFetchAllDeduplicates(t *testing.T) {
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	sources := []Source{
		{URL: server.URL + "/a.csv", OutDir: outDir},
		{URL: server.URL + "/a.csv", OutDir: outDir},
	}
	if err := (Fetcher{}).FetchAll(context.Background(), sources); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&requests) != 1 {
		t.Errorf("duplicate source fetched %d times", requests)
	}
}

func TestLoadSourcesFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"url": "https://host/a.csv", "out_dir": "/data", "unzip": true}]`))
	}))
	defer server.Close()

	sources, err := LoadSources(server.URL + "/sources.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].URL != "https://host/a.csv" || !sources[0].Unzip {
		t.Errorf("unexpected sources %+v", sources)
	}
}

func TestFetchOneUnsupportedScheme(t *testing.T) {
	err := FetchOne(context.Background(), Source{URL: "gopher://host/file", OutDir: t.TempDir()})
	if err == nil {
		t.Errorf("expected an error for an unsupported scheme")
	}
}

func TestFetchAll(t *testing.T) {
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	sources := []Source{
		{URL: server.URL + "/a.csv", OutDir: outDir},
		{URL: server.URL + "/missing.csv", OutDir: outDir},
		{URL: server.URL + "/b.csv", OutDir: outDir},
	}
	err := Fetcher{Concurrency: 2}.FetchAll(context.Background(), sources)

	// The failing source is reported, the others still land
	if err == nil {
		t.Fatal("expected an error for the missing source")
	}
	if atomic.LoadInt64(&requests) != 3 {
		t.Errorf("expected 3 requests, got %d", requests)
	}
	for _, name := range []string{"a.csv", "b.csv"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "missing.csv")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind")
	}
}
