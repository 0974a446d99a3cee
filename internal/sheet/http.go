package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AccessTokenProvider supplies a bearer token for each request, so callers
// can plug in refreshing credentials without this package knowing about
// credential storage.
type AccessTokenProvider func(ctx context.Context) (string, error)

// HTTPClientOptions configures NewHTTPClient. Zero values pick defaults.
type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	// MaxTransportRetries bounds retries of failed connections (not HTTP
	// status errors — those are classified by the engine's governor).
	MaxTransportRetries int
	RetryDelay          time.Duration
}

// HTTPClient talks to the remote sheet's REST surface.
//
// Status errors, including 429 quota rejections, are returned as *APIError
// without retrying: backoff for quota errors is the governor's job and
// retrying here would double-spend the retry budget. Only dial/transport
// failures are retried, with a small fixed budget.
type HTTPClient struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	retryDelay    time.Duration
}

// NewHTTPClient creates a REST client for the remote sheet service.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://sheets.googleapis.com/v4"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxTransportRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 250 * time.Millisecond
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
	}
}

// ReadRange implements Client.
func (c *HTTPClient) ReadRange(ctx context.Context, spreadsheetID, a1Range string) (*ValueRange, error) {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	var vr ValueRange
	if err := c.do(ctx, http.MethodGet, path, nil, &vr); err != nil {
		return nil, err
	}
	return &vr, nil
}

// AppendRows implements Client.
func (c *HTTPClient) AppendRows(ctx context.Context, spreadsheetID, a1Range string, rows [][]string) error {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=RAW",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))
	body := ValueRange{Range: a1Range, Values: rows}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// UpdateRange implements Client.
func (c *HTTPClient) UpdateRange(ctx context.Context, spreadsheetID, a1Range string, rows [][]string) error {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=RAW",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))
	body := ValueRange{Range: a1Range, Values: rows}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// BatchUpdate implements Client.
func (c *HTTPClient) BatchUpdate(ctx context.Context, spreadsheetID string, reqs []DeleteRowsRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	type deleteDimension struct {
		Range struct {
			SheetID    int64  `json:"sheetId"`
			Dimension  string `json:"dimension"`
			StartIndex int    `json:"startIndex"`
			EndIndex   int    `json:"endIndex"`
		} `json:"range"`
	}
	type request struct {
		DeleteDimension deleteDimension `json:"deleteDimension"`
	}
	payload := struct {
		Requests []request `json:"requests"`
	}{}
	for _, r := range reqs {
		var dd deleteDimension
		dd.Range.SheetID = r.SheetID
		dd.Range.Dimension = "ROWS"
		dd.Range.StartIndex = r.StartIndex
		dd.Range.EndIndex = r.EndIndex
		payload.Requests = append(payload.Requests, request{DeleteDimension: dd})
	}

	path := fmt.Sprintf("/spreadsheets/%s:batchUpdate", url.PathEscape(spreadsheetID))
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// GetMetadata implements Client.
func (c *HTTPClient) GetMetadata(ctx context.Context, spreadsheetID string) (*Metadata, error) {
	path := fmt.Sprintf("/spreadsheets/%s?fields=spreadsheetId,sheets.properties",
		url.PathEscape(spreadsheetID))

	// The wire shape nests tab properties; flatten into Metadata.
	var raw struct {
		SpreadsheetID string `json:"spreadsheetId"`
		Sheets        []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	md := &Metadata{SpreadsheetID: raw.SpreadsheetID}
	for _, s := range raw.Sheets {
		md.Sheets = append(md.Sheets, Sheet{ID: s.Properties.SheetID, Title: s.Properties.Title})
	}
	return md, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.tokenProvider == nil {
		return fmt.Errorf("sheet token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("sheet access token is empty")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("sheet request failed: %w", err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Error struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Error.Status != "" {
				apiErr.Code = parsed.Error.Status
			}
			if strings.TrimSpace(parsed.Error.Message) != "" {
				apiErr.Message = parsed.Error.Message
			}
		}
		// Honor Retry-After on quota rejections so the caller's backoff can
		// pick up from an informed floor; embedded in the message for logs.
		if ra := parseRetryAfterSeconds(resp.Header.Get("Retry-After")); ra > 0 && apiErr.IsRateLimit() {
			apiErr.Message = fmt.Sprintf("%s (retry after %s)", apiErr.Message, ra)
		}
		return apiErr
	}
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
