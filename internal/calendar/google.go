package calendar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// GoogleClient talks to the Google Calendar v3 events API with a
// pre-obtained OAuth bearer token. Events live on the primary calendar and
// never notify attendees.
type GoogleClient struct {
	baseUrl    string
	token      string
	window     Window
	httpClient *http.Client
}

// NewGoogleClient creates a calendar client for the primary calendar.
func NewGoogleClient(token string, window Window) *GoogleClient {
	return &GoogleClient{
		baseUrl:    "https://www.googleapis.com/calendar/v3",
		token:      token,
		window:     window,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventBody struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
	ColorID     string     `json:"colorId,omitempty"`
}

type eventData struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GoogleClient) body(in EventInput) eventBody {
	start := fmt.Sprintf("%sT%02d:00:00", in.WhenYmd, c.window.StartHH)
	end := fmt.Sprintf("%sT%02d:00:00", in.WhenYmd, c.window.EndHH)
	return eventBody{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &eventTime{DateTime: start, TimeZone: c.window.TimeZone},
		End:         &eventTime{DateTime: end, TimeZone: c.window.TimeZone},
		ColorID:     in.ColorID,
	}
}

func (c *GoogleClient) do(method, path string, reqBody any) (*http.Response, error) {
	var buf io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request (calendar): %w", err)
		}
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.baseUrl+path, buf)
	if err != nil {
		return nil, fmt.Errorf("build request (calendar): %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s (calendar): %w", method, path, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	errorBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error body (calendar): %w", err)
	}
	var gerr googleError
	if err := json.Unmarshal(errorBody, &gerr); err == nil && gerr.Error.Message != "" {
		return fmt.Errorf("calendar error: %s", gerr.Error.Message)
	}
	return fmt.Errorf("calendar error status: %d", resp.StatusCode)
}

// Insert creates a timed event within the firm window.
func (c *GoogleClient) Insert(in EventInput) (*Event, error) {
	resp, err := c.do(http.MethodPost, "/calendars/primary/events?sendUpdates=none", c.body(in))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var data eventData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("parse event (calendar): %w", err)
	}
	return &Event{ID: data.ID, HTMLLink: data.HTMLLink}, nil
}

// Patch rewrites an event in place. A missing or already-deleted event is
// not an error.
func (c *GoogleClient) Patch(eventID string, in EventInput) error {
	if eventID == "" {
		return nil
	}
	path := "/calendars/primary/events/" + url.PathEscape(eventID) + "?sendUpdates=none"
	resp, err := c.do(http.MethodPatch, path, c.body(in))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusGone:
		return nil
	}
	return decodeError(resp)
}

// Delete removes an event. A missing or already-deleted event is not an
// error.
func (c *GoogleClient) Delete(eventID string) error {
	if eventID == "" {
		return nil
	}
	path := "/calendars/primary/events/" + url.PathEscape(eventID) + "?sendUpdates=none"
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	}
	return decodeError(resp)
}
