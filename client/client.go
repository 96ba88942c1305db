package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient is a thin HTTP client for the report server.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type submitRequest struct {
	ReportType  string          `json:"reportType"`
	RequestedBy string          `json:"requestedBy"`
	Parameters  json.RawMessage `json:"parameters"`
}

type submitResponse struct {
	RequestID  string `json:"requestId"`
	Status     string `json:"status"`
	ReportType string `json:"reportType"`
	CreatedAt  string `json:"createdAt"`
}

type statusResponse struct {
	RequestID    string `json:"requestId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	UpdatedAt    string `json:"updatedAt"`
}

type detailsResponse struct {
	RequestID    string          `json:"requestId"`
	ReportType   string          `json:"reportType"`
	Status       string          `json:"status"`
	RequestedBy  string          `json:"requestedBy"`
	Parameters   json.RawMessage `json:"parameters"`
	ArchiveRef   string          `json:"archiveRef"`
	ErrorMessage string          `json:"errorMessage"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

type apiError struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *APIClient) Submit(ctx context.Context, reportType, requestedBy, parameters string) (*submitResponse, error) {
	if parameters == "" {
		parameters = "{}"
	}
	if !json.Valid([]byte(parameters)) {
		return nil, fmt.Errorf("parameters must be a JSON document")
	}
	body, err := json.Marshal(submitRequest{
		ReportType:  reportType,
		RequestedBy: requestedBy,
		Parameters:  json.RawMessage(parameters),
	})
	if err != nil {
		return nil, err
	}

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/reports/generate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Status(ctx context.Context, requestID string) (*statusResponse, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+requestID+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Details(ctx context.Context, requestID string) (*detailsResponse, error) {
	var out detailsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+requestID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("unexpected response: %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
