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

	"praxis/internal/config"
	"praxis/internal/daemon"
	"praxis/internal/queue"
)

// apiClient talks to the praxisd HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type submitPayload struct {
	Requester string `json:"requester"`
	Query     string `json:"query"`
	Origin    string `json:"origin"`
}

type submitResult struct {
	Item     *queue.Item `json:"item"`
	Position int         `json:"position"`
	WaitSecs int         `json:"wait_seconds"`
}

type cancelResult struct {
	Removed bool `json:"removed"`
}

type listResult struct {
	Items []*queue.Item `json:"items"`
}

func newAPIClient(cfg *config.Config) *apiClient {
	return &apiClient{
		baseURL: "http://" + strings.TrimSpace(cfg.Paths.APIBind),
		token:   strings.TrimSpace(cfg.Paths.APIToken),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Reachable reports whether the daemon API answers.
func (c *apiClient) Reachable() bool {
	resp, err := c.do(http.MethodGet, "/api/health", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *apiClient) Status() (daemon.Status, error) {
	var status daemon.Status
	if err := c.getJSON("/api/status", &status); err != nil {
		return daemon.Status{}, err
	}
	return status, nil
}

func (c *apiClient) List(statuses []string) ([]*queue.Item, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, s := range statuses {
			values.Add("status", s)
		}
		path += "?" + values.Encode()
	}
	var result listResult
	if err := c.getJSON(path, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *apiClient) Submit(requester, query, origin string) (submitResult, error) {
	body, err := json.Marshal(submitPayload{Requester: requester, Query: query, Origin: origin})
	if err != nil {
		return submitResult{}, err
	}
	resp, err := c.do(http.MethodPost, "/api/queue", bytes.NewReader(body))
	if err != nil {
		return submitResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return submitResult{}, apiError(resp)
	}
	var result submitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return submitResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func (c *apiClient) Cancel(id, requester string) (bool, error) {
	path := "/api/queue/" + url.PathEscape(id)
	if requester != "" {
		path += "?requester=" + url.QueryEscape(requester)
	}
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, apiError(resp)
	}
	var result cancelResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Removed, nil
}

func (c *apiClient) getJSON(path string, target any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s", payload.Error)
	}
	return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
}
