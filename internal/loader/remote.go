package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// RemoteSource fetches recordings from an HTTP recording service that
// answers POST {cellsPath} with {"cells": [...]} and POST {cellsPath}/list
// with {"names": [...]}.
type RemoteSource struct {
	baseURL    string
	cellsPath  string
	maxSize    datasize.ByteSize
	httpClient *http.Client
}

// NewRemoteSource constructs a client for the recording service at baseURL.
func NewRemoteSource(baseURL, cellsPath string, timeout time.Duration, maxSize datasize.ByteSize) *RemoteSource {
	return &RemoteSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		cellsPath: cellsPath,
		maxSize:   maxSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// List asks the service for every cell name.
func (s *RemoteSource) List(ctx context.Context) ([]string, error) {
	var response struct {
		Names []string `json:"names"`
	}
	if err := s.postJSON(ctx, s.resolvePath(path.Join(s.cellsPath, "list")), map[string]any{}, &response); err != nil {
		return nil, fmt.Errorf("recording list request failed: %w", err)
	}
	return response.Names, nil
}

// Load fetches the named cells.
func (s *RemoteSource) Load(ctx context.Context, names []string) ([]models.CellRecording, error) {
	payload := map[string]any{"names": names}
	var response struct {
		Cells []models.CellRecording `json:"cells"`
	}
	if err := s.postJSON(ctx, s.resolvePath(s.cellsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("recording request failed: %w", err)
	}
	return selectCells(response.Cells, names)
}

func (s *RemoteSource) resolvePath(p string) string {
	if s.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (s *RemoteSource) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("recording service base URL not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: recording service returned %s", ErrCellNotFound, resp.Status)
	default:
		return fmt.Errorf("recording service returned %s", resp.Status)
	}

	var reader io.Reader = resp.Body
	if s.maxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(s.maxSize.Bytes())+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if s.maxSize > 0 && uint64(len(data)) > s.maxSize.Bytes() {
		return fmt.Errorf("response exceeds %s", s.maxSize.HumanReadable())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
