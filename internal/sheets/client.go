// Package sheets is a minimal Google Sheets values API client used by the
// export sweeper. It speaks the REST values endpoints directly and
// authenticates per call with the partner's service-account credentials.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultBaseURL   = "https://sheets.googleapis.com"
	spreadsheetScope = "https://www.googleapis.com/auth/spreadsheets"
	requestTimeout   = 30 * time.Second
)

// Client talks to the Google Sheets values API. The zero credential client
// (for tests against a fake endpoint) is created with NewUnauthenticated.
type Client struct {
	baseURL    string
	httpClient func(ctx context.Context, credentialsJSON string) (*http.Client, error)
}

// New creates a client that signs requests with per-call service-account
// credentials.
func New() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: func(ctx context.Context, credentialsJSON string) (*http.Client, error) {
			cfg, err := google.JWTConfigFromJSON([]byte(credentialsJSON), spreadsheetScope)
			if err != nil {
				return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
			}
			return oauth2.NewClient(ctx, cfg.TokenSource(ctx)), nil
		},
	}
}

// NewUnauthenticated creates a client against a custom endpoint without
// credential exchange, used in tests.
func NewUnauthenticated(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: func(ctx context.Context, credentialsJSON string) (*http.Client, error) {
			return &http.Client{Timeout: requestTimeout}, nil
		},
	}
}

type valueRange struct {
	Values [][]string `json:"values,omitempty"`
}

// Header reads the first row of a sheet. An empty sheet yields an empty
// header, not an error.
func (c *Client) Header(ctx context.Context, credentialsJSON, spreadsheetID, sheetName string) ([]string, error) {
	rangeRef := fmt.Sprintf("%s!1:1", sheetName)

	var vr valueRange
	if err := c.do(ctx, credentialsJSON, http.MethodGet, c.valuesURL(spreadsheetID, rangeRef, nil), nil, &vr); err != nil {
		return nil, err
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return vr.Values[0], nil
}

// UpdateHeader replaces the first row of a sheet verbatim
func (c *Client) UpdateHeader(ctx context.Context, credentialsJSON, spreadsheetID, sheetName string, header []string) error {
	rangeRef := fmt.Sprintf("%s!1:1", sheetName)
	query := url.Values{"valueInputOption": {"RAW"}}

	body := valueRange{Values: [][]string{header}}
	return c.do(ctx, credentialsJSON, http.MethodPut, c.valuesURL(spreadsheetID, rangeRef, query), &body, nil)
}

// AppendRow appends one row after the last populated row of the sheet
func (c *Client) AppendRow(ctx context.Context, credentialsJSON, spreadsheetID, sheetName string, row []string) error {
	rangeRef := fmt.Sprintf("%s!A1", sheetName)
	query := url.Values{
		"valueInputOption": {"USER_ENTERED"},
		"insertDataOption": {"INSERT_ROWS"},
	}

	body := valueRange{Values: [][]string{row}}
	appendURL := c.valuesURL(spreadsheetID, rangeRef, nil) + ":append?" + query.Encode()
	return c.do(ctx, credentialsJSON, http.MethodPost, appendURL, &body, nil)
}

func (c *Client) valuesURL(spreadsheetID, rangeRef string, query url.Values) string {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rangeRef))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, credentialsJSON, method, rawURL string, body, out any) error {
	hc, err := c.httpClient(ctx, credentialsJSON)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call sheets api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sheets api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode sheets response: %w", err)
		}
	}
	return nil
}
