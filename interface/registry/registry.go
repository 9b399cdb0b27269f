package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/grab"
	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/service"
	"github.com/globaltraits/trait-ingester/service/log"
	"github.com/mholt/archiver"
)

// Format of the occurrence downloads
const downloadFormat = "SIMPLE_PARQUET"

// Client talks to the occurrence-registry download API
type Client struct {
	endpoint string
	username string
	password string
	client   *http.Client
}

// NewClient creates a registry client. Submissions require credentials;
// status queries and fetches do not.
func NewClient(endpoint, username, password string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		username: username,
		password: password,
		client:   &http.Client{},
	}
}

type downloadRequest struct {
	Format    string          `json:"format"`
	Predicate json.RawMessage `json:"predicate"`
}

// SubmitDownload submits a structured predicate query and returns the job key
func (c *Client) SubmitDownload(ctx context.Context, predicate json.RawMessage) (string, error) {
	body, err := json.Marshal(downloadRequest{Format: downloadFormat, Predicate: predicate})
	if err != nil {
		return "", fmt.Errorf("SubmitDownload.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/occurrence/download/request", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("SubmitDownload.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("SubmitDownload: %w", err))
	}
	defer resp.Body.Close()

	key, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("SubmitDownload.ReadAll: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", service.ClassifyHTTP(resp.StatusCode, fmt.Errorf("SubmitDownload: %s: %s", resp.Status, key))
	}
	return strings.TrimSpace(string(key)), nil
}

// Meta is the job metadata returned by the registry
type Meta struct {
	Key          string `json:"key"`
	Status       string `json:"status"`
	DownloadLink string `json:"downloadLink"`
	TotalRecords int64  `json:"totalRecords"`
	Size         int64  `json:"size"`
}

// DownloadMeta queries the job metadata. One network round-trip, no retries.
// The raw body is returned alongside so it can be saved as a sidecar.
func (c *Client) DownloadMeta(ctx context.Context, key string) (Meta, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/occurrence/download/"+key, nil)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("DownloadMeta.NewRequest: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Meta{}, nil, service.MakeTemporary(fmt.Errorf("DownloadMeta: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("DownloadMeta.ReadAll: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Meta{}, nil, service.ClassifyHTTP(resp.StatusCode, fmt.Errorf("DownloadMeta[%s]: %s: %s", key, resp.Status, body))
	}

	var meta Meta
	if err := json.Unmarshal(body, &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("DownloadMeta.Unmarshal: %w", err)
	}
	return meta, body, nil
}

// Status maps the registry status field onto a StatusReport
func (m Meta) StatusReport() (common.StatusReport, error) {
	switch m.Status {
	case "PREPARING", "SUSPENDED":
		return common.StatusReport{State: common.StatusPENDING}, nil
	case "RUNNING":
		return common.StatusReport{State: common.StatusRUNNING}, nil
	case "SUCCEEDED":
		return common.StatusReport{State: common.StatusSUCCEEDED}, nil
	case "FAILED", "KILLED", "CANCELLED":
		return common.StatusReport{State: common.StatusFAILED, Error: "download job " + m.Key + " " + strings.ToLower(m.Status)}, nil
	}
	return common.StatusReport{}, fmt.Errorf("unknown registry status %q", m.Status)
}

// FetchResult downloads the result zip of a SUCCEEDED job to outDir along
// with a JSON metadata sidecar. When name is non-empty, both files are
// renamed from the job key to the human-readable name.
// Returns the path of the zip archive.
func (c *Client) FetchResult(ctx context.Context, key, outDir, name string) (string, error) {
	meta, rawMeta, err := c.DownloadMeta(ctx, key)
	if err != nil {
		return "", fmt.Errorf("FetchResult.%w", err)
	}

	link := meta.DownloadLink
	if link == "" {
		link = c.endpoint + "/occurrence/download/request/" + key + ".zip"
	}

	if err := os.MkdirAll(outDir, 0766); err != nil {
		return "", fmt.Errorf("FetchResult.MkdirAll: %w", err)
	}

	stem := key
	if name != "" {
		stem = name
	}
	localZip := filepath.Join(outDir, stem+".zip")

	req, err := grab.NewRequest(localZip, link)
	if err != nil {
		return "", fmt.Errorf("FetchResult.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	resp := grab.NewClient().Do(req)
	log.Logger(ctx).Sugar().Infof("downloading %s to %s", link, localZip)
	if err := resp.Err(); err != nil {
		os.Remove(localZip)
		return "", service.MakeTemporary(fmt.Errorf("FetchResult.download[%s]: %w", link, err))
	}

	// Save the metadata alongside the data
	if err := os.WriteFile(filepath.Join(outDir, stem+".json"), rawMeta, 0644); err != nil {
		return "", fmt.Errorf("FetchResult.WriteFile: %w", err)
	}
	return localZip, nil
}

// UnzipAndRename extracts the result archive next to itself, renames the
// extracted directory to <stem>.parquet and removes the zip.
func UnzipAndRename(ctx context.Context, localZip string) error {
	outDir := filepath.Dir(localZip)
	tmpDir, err := os.MkdirTemp(outDir, filepath.Base(localZip))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("UnzipAndRename: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	if err := archiver.Unarchive(localZip, tmpDir); err != nil {
		return service.MakeTemporary(fmt.Errorf("UnzipAndRename.Unarchive: %w", err))
	}
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("UnzipAndRename.ReadDir: %w", err)
	}
	if len(entries) == 0 {
		return service.MakeTemporary(fmt.Errorf("UnzipAndRename: empty zip"))
	}

	// The archive holds a single directory of parquet parts
	// (typically "occurrence.parquet")
	stem := strings.TrimSuffix(localZip, filepath.Ext(localZip))
	dst := stem + ".parquet"
	if err := os.Rename(filepath.Join(tmpDir, entries[0].Name()), dst); err != nil {
		return fmt.Errorf("UnzipAndRename.Rename: %w", err)
	}
	if err := os.Remove(localZip); err != nil {
		return fmt.Errorf("UnzipAndRename.Remove: %w", err)
	}
	log.Logger(ctx).Sugar().Infof("extracted %s", dst)
	return nil
}
