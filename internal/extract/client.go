// Package extract fetches call records from the voice-AI calls API with
// pagination and optional incremental time-window filtering.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// defaultTimeout bounds each page request.
	defaultTimeout = 30 * time.Second

	// pageDelay is the polite pause between page requests.
	pageDelay = 300 * time.Millisecond

	// maxWindowItems guards against runaway extraction. The API reports
	// the window's total on the first page; beyond this the operator
	// must narrow the date range.
	maxWindowItems = 10000
)

// ErrWindowTooLarge is returned when the requested window holds more
// records than one run is allowed to pull.
var ErrWindowTooLarge = errors.New("extraction window too large")

// Call is one raw call record. Typed fields cover everything the transform
// stage reads; Raw preserves the full payload for the jsonb column.
type Call struct {
	ID                   string          `json:"id"`
	AssistantID          string          `json:"assistantId"`
	Type                 string          `json:"type"`
	OrgID                string          `json:"orgId"`
	CampaignID           string          `json:"campaignId"`
	Status               string          `json:"status"`
	EndedReason          string          `json:"endedReason"`
	CreatedAt            string          `json:"createdAt"`
	StartedAt            string          `json:"startedAt"`
	EndedAt              string          `json:"endedAt"`
	UpdatedAt            string          `json:"updatedAt"`
	StereoRecordingURL   string          `json:"stereoRecordingUrl"`
	Transcript           string          `json:"transcript"`
	Summary              string          `json:"summary"`
	Cost                 *float64        `json:"cost"`
	Customer             json.RawMessage `json:"customer"`
	AssistantPhoneNumber json.RawMessage `json:"assistantPhoneNumber"`
	Analysis             json.RawMessage `json:"analysis"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and retains the raw payload.
func (c *Call) UnmarshalJSON(data []byte) error {
	type alias Call
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Call(a)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// pageEnvelope is the API's paginated response shape.
type pageEnvelope struct {
	Results  []Call `json:"results"`
	Metadata struct {
		TotalItems int `json:"totalItems"`
	} `json:"metadata"`
}

// Window filters extraction to calls updated inside a UTC time range.
// Empty bounds are omitted from the query.
type Window struct {
	UpdatedAfter  string // e.g. 2025-10-23T16:00:00Z
	UpdatedBefore string
}

// ListResult is the outcome of a full paginated extraction.
type ListResult struct {
	Calls      []Call
	Pages      int
	TotalItems int
}

// Client pulls call records page by page.
type Client struct {
	baseURL   string
	apiKey    string
	pageLimit int
	httpc     *http.Client
	sleep     func(time.Duration)
}

// New creates a Client for the given endpoint. pageLimit is the page size
// requested from the API.
func New(baseURL, apiKey string, pageLimit int) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		pageLimit: pageLimit,
		httpc:     &http.Client{Timeout: defaultTimeout},
		sleep:     time.Sleep,
	}
}

// ListCalls fetches every page in the window, stopping on an empty or
// short page. The first page's reported total is checked against the
// runaway-extraction guard.
func (c *Client) ListCalls(ctx context.Context, w Window) (*ListResult, error) {
	result := &ListResult{}
	page := 1

	for {
		env, err := c.fetchPage(ctx, page, w)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		if page == 1 {
			result.TotalItems = env.Metadata.TotalItems
			if env.Metadata.TotalItems > maxWindowItems {
				return nil, fmt.Errorf("%w: window holds %d records (max %d), narrow the date range",
					ErrWindowTooLarge, env.Metadata.TotalItems, maxWindowItems)
			}
		}

		if len(env.Results) == 0 {
			result.Pages = page
			break
		}

		result.Calls = append(result.Calls, env.Results...)
		log.Printf("[page %d] retrieved %d calls", page, len(env.Results))

		if len(env.Results) < c.pageLimit {
			result.Pages = page
			break
		}

		page++
		c.sleep(pageDelay)
	}

	return result, nil
}

// fetchPage issues one page request.
func (c *Client) fetchPage(ctx context.Context, page int, w Window) (*pageEnvelope, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("sortOrder", "ASC")
	if w.UpdatedAfter != "" {
		q.Set("updatedAtGt", w.UpdatedAfter)
	}
	if w.UpdatedBefore != "" {
		q.Set("updatedAtLt", w.UpdatedBefore)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env, nil
}
