package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/service"
	"golang.org/x/oauth2"
)

// ErrTaskNotFound is returned when the platform does not know the task
type ErrTaskNotFound struct {
	TaskID string
}

func (e ErrTaskNotFound) Error() string {
	return fmt.Sprintf("Task not found: %s", e.TaskID)
}

// FormatOptions of the exported file
type FormatOptions struct {
	CloudOptimized bool `json:"cloudOptimized"`
	NoData         *int `json:"noData,omitempty"`
}

// ExportRequest is one export submission to the compute platform.
// Description doubles as the stem of the output file.
type ExportRequest struct {
	Description    string        `json:"description"`
	FileNamePrefix string        `json:"fileNamePrefix"`
	CRS            string        `json:"crs"`
	FileFormat     string        `json:"fileFormat"`
	FormatOptions  FormatOptions `json:"formatOptions"`
	MaxPixels      float64       `json:"maxPixels"`
	Scale          int           `json:"scale"`
	SkipEmptyTiles bool          `json:"skipEmptyTiles"`

	// Destination: exactly one of Bucket (object storage) or Folder (drive)
	Bucket string `json:"bucket,omitempty"`
	Folder string `json:"folder,omitempty"`

	// Server-side selection and reduction, consumed by the platform
	Collection string         `json:"collection"`
	Bands      []string       `json:"bands,omitempty"`
	QA         *common.QAMask `json:"qa,omitempty"`
	DateStart  string         `json:"dateStart,omitempty"`
	DateEnd    string         `json:"dateEnd,omitempty"`
	Reducer    string         `json:"reducer,omitempty"`
}

// TaskClient submits exports and queries their status
type TaskClient interface {
	SubmitExport(ctx context.Context, req ExportRequest) (common.Task, error)
	TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error)
}

// Client is the REST client of the compute/export platform
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient connects to the platform at the given endpoint.
// tokenSource may be nil for anonymous/testing endpoints.
func NewClient(ctx context.Context, endpoint string, tokenSource oauth2.TokenSource) *Client {
	client := http.DefaultClient
	if tokenSource != nil {
		client = oauth2.NewClient(ctx, tokenSource)
	}
	return &Client{endpoint: endpoint, client: client}
}

type submitResponse struct {
	ID string `json:"id"`
}

// SubmitExport implements TaskClient
func (c *Client) SubmitExport(ctx context.Context, req ExportRequest) (common.Task, error) {
	body, err := json.Marshal(&req)
	if err != nil {
		return common.Task{}, fmt.Errorf("SubmitExport.Marshal: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return common.Task{}, fmt.Errorf("SubmitExport.NewRequest: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(request)
	if err != nil {
		return common.Task{}, service.MakeTemporary(fmt.Errorf("SubmitExport: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return common.Task{}, service.ClassifyHTTP(resp.StatusCode, fmt.Errorf("SubmitExport[%s]: %s: %s", req.Description, resp.Status, b))
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return common.Task{}, fmt.Errorf("SubmitExport.Decode: %w", err)
	}
	return common.Task{ID: sr.ID, Description: req.Description}, nil
}

type statusResponse struct {
	State        string `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TaskStatus implements TaskClient: one network round-trip, no retries.
func (c *Client) TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/tasks/"+task.ID, nil)
	if err != nil {
		return common.StatusReport{}, fmt.Errorf("TaskStatus.NewRequest: %w", err)
	}

	resp, err := c.client.Do(request)
	if err != nil {
		return common.StatusReport{}, service.MakeTemporary(fmt.Errorf("TaskStatus: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return common.StatusReport{}, ErrTaskNotFound{TaskID: task.ID}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return common.StatusReport{}, service.ClassifyHTTP(resp.StatusCode, fmt.Errorf("TaskStatus[%s]: %s: %s", task.ID, resp.Status, b))
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return common.StatusReport{}, fmt.Errorf("TaskStatus.Decode: %w", err)
	}

	report := common.StatusReport{Error: sr.ErrorMessage}
	switch sr.State {
	case "READY", "PENDING", "SUBMITTED", "UNSUBMITTED":
		report.State = common.StatusPENDING
	case "RUNNING":
		report.State = common.StatusRUNNING
	case "COMPLETED", "SUCCEEDED":
		report.State = common.StatusSUCCEEDED
	case "FAILED", "CANCELLED":
		report.State = common.StatusFAILED
	default:
		return common.StatusReport{}, fmt.Errorf("TaskStatus[%s]: unknown state %q", task.ID, sr.State)
	}
	return report, nil
}
