package groupme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "groupmecal/internal/log"
)

const (
	DefaultBaseURL = "https://api.groupme.com/v3"

	accessTokenHeader = "X-Access-Token"

	// maxBodyBytes caps how much of an upstream response is read.
	maxBodyBytes = 8 << 20
	// maxDetailBytes caps how much of an error body is kept for logging.
	maxDetailBytes = 2048
)

// StatusError is returned when the events endpoint answers with a
// non-200 status. Body is kept for operator diagnostics only.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("groupme events: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Result is the outcome of a successful FetchEvents call.
type Result struct {
	Payload *EventsPayload

	// GroupName is the group's display name, or "" when the metadata
	// request failed or returned no name.
	GroupName string
}

// Client talks to the GroupMe v3 API.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a GroupMe client. An empty baseURL selects
// DefaultBaseURL; a non-positive timeout selects 15s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FetchEvents fetches the group's event list and, best effort, the group
// name. Only a failure of the event list request is an error.
func (c *Client) FetchEvents(ctx context.Context, accessToken, groupID string) (*Result, error) {
	if accessToken == "" || groupID == "" {
		return nil, errors.New("groupme: access token and group id are required")
	}

	eventsURL := c.baseURL + "/conversations/" + url.PathEscape(groupID) + "/events/list"
	groupURL := c.baseURL + "/groups/" + url.PathEscape(groupID)

	appLog.Info("groupme fetch start", "group_id", groupID, "url", redactURL(eventsURL))

	status, body, err := c.get(ctx, eventsURL, accessToken)
	if err != nil {
		return nil, fmt.Errorf("groupme events: %w", err)
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Body: truncate(string(body), maxDetailBytes)}
	}

	var payload EventsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("groupme events: decode: %w", err)
	}

	res := &Result{Payload: &payload}
	res.GroupName = c.fetchGroupName(ctx, groupURL, accessToken)

	appLog.Info("groupme fetch success",
		"group_id", groupID,
		"event_count", len(payload.Response.Events),
		"group_name_found", res.GroupName != "",
	)
	return res, nil
}

// fetchGroupName returns "" on any failure; the name is optional enrichment.
func (c *Client) fetchGroupName(ctx context.Context, groupURL, accessToken string) string {
	status, body, err := c.get(ctx, groupURL, accessToken)
	if err != nil {
		appLog.Debug("groupme group info failed", "url", redactURL(groupURL), "err", err)
		return ""
	}
	if status != http.StatusOK {
		appLog.Debug("groupme group info non-OK", "url", redactURL(groupURL), "status", status)
		return ""
	}
	var info GroupInfo
	if err := json.Unmarshal(body, &info); err != nil {
		appLog.Debug("groupme group info decode failed", "url", redactURL(groupURL), "err", err)
		return ""
	}
	return strings.TrimSpace(info.Response.Name)
}

func (c *Client) get(ctx context.Context, u, accessToken string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(accessTokenHeader, accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// redactURL keeps only scheme and host of u. The group id appears in the
// path and is not secret, but logs should not depend on that.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "groupme://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
