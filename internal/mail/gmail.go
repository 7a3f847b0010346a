package mail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GmailClient sends through the Gmail API users.messages endpoint with a
// pre-obtained OAuth bearer token.
type GmailClient struct {
	baseUrl    string
	token      string
	from       string
	httpClient *http.Client
	now        func() time.Time
}

// NewGmailClient creates a mailer sending as the given address.
func NewGmailClient(token, from string) *GmailClient {
	return &GmailClient{
		baseUrl:    "https://gmail.googleapis.com/gmail/v1",
		token:      token,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

type sendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers a new message. No TO recipients means nothing to deliver.
func (c *GmailClient) Send(m Message) (*SendResult, error) {
	if len(m.To) == 0 {
		return nil, nil
	}
	raw, err := BuildRaw(c.from, m, "", "", c.now())
	if err != nil {
		return nil, err
	}
	return c.send(sendRequest{Raw: raw}, "")
}

// SendReply threads a message into an existing conversation. Without a
// thread id it degrades to a fresh send.
func (c *GmailClient) SendReply(r Reply) (*SendResult, error) {
	if len(r.To) == 0 {
		return nil, nil
	}
	if r.ThreadID == "" {
		return c.Send(r.Message)
	}
	references := r.References
	if references == "" {
		references = r.InReplyTo
	}
	raw, err := BuildRaw(c.from, r.Message, r.InReplyTo, references, c.now())
	if err != nil {
		return nil, err
	}
	res, err := c.send(sendRequest{Raw: raw, ThreadID: r.ThreadID}, references)
	if err != nil {
		return nil, err
	}
	if res.ThreadID == "" {
		res.ThreadID = r.ThreadID
	}
	return res, nil
}

func (c *GmailClient) send(req sendRequest, fallbackReferences string) (*SendResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal send request (gmail): %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseUrl+"/users/me/messages/send", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("build request (gmail): %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send message (gmail): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read error body (gmail): %w", readErr)
		}
		var gerr gmailError
		if err := json.Unmarshal(errorBody, &gerr); err == nil && gerr.Error.Message != "" {
			return nil, fmt.Errorf("gmail error: %s", gerr.Error.Message)
		}
		return nil, fmt.Errorf("gmail error status: %d", resp.StatusCode)
	}

	var sent sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return nil, fmt.Errorf("parse send response (gmail): %w", err)
	}

	result := &SendResult{ThreadID: sent.ThreadID, MessageID: sent.ID, References: fallbackReferences}

	// The RFC Message-ID only exists after delivery. Losing it degrades
	// threading, not the send, so fetch failures are logged and ignored.
	rfcID, references, err := c.messageHeaders(sent.ID)
	if err != nil {
		log.Printf("mail: could not fetch headers for %s: %v", sent.ID, err)
		return result, nil
	}
	result.RFCMessageID = rfcID
	if references != "" {
		result.References = references
	}
	return result, nil
}

type headersResponse struct {
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (c *GmailClient) messageHeaders(messageID string) (rfcID, references string, err error) {
	if messageID == "" {
		return "", "", nil
	}
	u := c.baseUrl + "/users/me/messages/" + url.PathEscape(messageID) +
		"?format=metadata&metadataHeaders=Message-ID&metadataHeaders=References"

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request (gmail): %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("get message (gmail): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("get message (gmail): status %d", resp.StatusCode)
	}

	var hr headersResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "", "", fmt.Errorf("parse message (gmail): %w", err)
	}
	for _, h := range hr.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "message-id":
			rfcID = h.Value
		case "references":
			references = h.Value
		}
	}
	return rfcID, references, nil
}
