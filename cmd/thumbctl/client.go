package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/url-thumbnailer/pkg/schema"
)

var errTaskFailed = errors.New("task failed")

// client talks to the thumbnailer HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, hc *http.Client) *client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *client) submit(ctx context.Context, sourceURL string) (string, error) {
	body, err := json.Marshal(schema.SubmitRequest{SourceImageURL: sourceURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/thumbnail", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	var out schema.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return out.TaskID, nil
}

// result fetches the polling form. done is false while the task is pending.
func (c *client) result(ctx context.Context, taskID string) (res schema.ResultResponse, done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/thumbnail?task_id="+url.QueryEscape(taskID), nil)
	if err != nil {
		return res, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return res, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
	default:
		return res, false, decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, false, fmt.Errorf("decode result response: %w", err)
	}
	if res.TaskStatus == "FAILURE" {
		return res, true, fmt.Errorf("%w: %s", errTaskFailed, res.Message)
	}
	return res, resp.StatusCode == http.StatusOK, nil
}

// wait polls until the task finishes or ctx ends.
func (c *client) wait(ctx context.Context, taskID string, interval time.Duration) (schema.ResultResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, done, err := c.result(ctx, taskID)
		if err != nil || done {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func thumbnailBytes(res schema.ResultResponse) ([]byte, error) {
	return base64.StdEncoding.DecodeString(res.Base64ThumbnailData)
}

func decodeError(resp *http.Response) error {
	var e schema.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if e.Error != "" {
		return fmt.Errorf("status %d: %s: %s", resp.StatusCode, e.Message, e.Error)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, e.Message)
}
