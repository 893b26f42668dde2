package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/projectdocs/docstore/pkg/authz"
)

type docstoreClient struct {
	baseURL string
	token   string
	user    string
	http    *http.Client
}

func newClient() *docstoreClient {
	return &docstoreClient{
		baseURL: strings.TrimRight(viper.GetString("server"), "/"),
		token:   viper.GetString("token"),
		user:    viper.GetString("user"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends a request and decodes a 2xx JSON response into v when v is not nil.
func (c *docstoreClient) do(method, path string, body []byte, contentType string, v any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		req.Header.Set(authz.RemoteUserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if v == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && (body.Error != "" || body.Message != "") {
		return &apiError{Status: status, Kind: body.Error, Message: body.Message}
	}
	return &apiError{Status: status, Message: strings.TrimSpace(string(data))}
}

func (c *docstoreClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, "", v)
}

func (c *docstoreClient) sendJSON(method, path string, body any, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return c.do(method, path, data, "application/json", v)
}

func projectPath(project string) string {
	return "/projects/" + url.PathEscape(project)
}

func documentPath(project, document string) string {
	return projectPath(project) + "/documents/" + url.PathEscape(document)
}
