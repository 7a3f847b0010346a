package mail

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Dear {{clientName}}, {{taskTitle}} starts {{startDate}}.", map[string]string{
		"clientName": "Acme Traders",
		"taskTitle":  "GSTR-3B Filing",
		"startDate":  "05-02-2025",
	})
	assert.Equal(t, "Dear Acme Traders, GSTR-3B Filing starts 05-02-2025.", out)

	// Unknown placeholders stay visible.
	assert.Equal(t, "hi {{nope}}", RenderTemplate("hi {{nope}}", map[string]string{"clientName": "x"}))
}

func TestNormalizeBodyToHTML(t *testing.T) {
	assert.Equal(t, "line one<br>line two", NormalizeBodyToHTML("line one\nline two"))
	assert.Equal(t, "a<br>b", NormalizeBodyToHTML(`a\nb`), "stored backslash-n tokens expand")
	assert.Equal(t, "5 &lt; 6 &amp; 7", NormalizeBodyToHTML("5 < 6 & 7"))

	rich := "<p>already <b>html</b></p>"
	assert.Equal(t, rich, NormalizeBodyToHTML(rich))
}

func TestBuildRaw(t *testing.T) {
	now := time.Date(2025, 2, 5, 9, 30, 0, 0, time.UTC)
	m := Message{
		To:      []string{"a@x.example", "b@x.example"},
		Cc:      []string{"c@x.example"},
		Subject: "Starting:\nGSTR-3B",
		Body:    "hello",
	}
	raw, err := BuildRaw("bot@firm.example", m, "<start@mail>", "<start@mail>", now)
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)
	msg := string(decoded)

	assert.Contains(t, msg, "From: bot@firm.example\r\n")
	assert.Contains(t, msg, "To: a@x.example, b@x.example\r\n")
	assert.Contains(t, msg, "Cc: c@x.example\r\n")
	assert.NotContains(t, msg, "Bcc:")
	assert.Contains(t, msg, "Subject: Starting: GSTR-3B\r\n", "newlines folded out of the subject")
	assert.Contains(t, msg, "In-Reply-To: <start@mail>\r\n")
	assert.Contains(t, msg, "References: <start@mail>\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"UTF-8\"\r\n\r\nhello")

	_, err = BuildRaw("", m, "", "", now)
	assert.Error(t, err)
}

func testGmail(t *testing.T, handler http.HandlerFunc) *GmailClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGmailClient("tok", "bot@firm.example")
	c.baseUrl = srv.URL
	c.now = func() time.Time { return time.Date(2025, 2, 5, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestGmailSendEmptyToIsNoop(t *testing.T) {
	c := testGmail(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	res, err := c.Send(Message{Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = c.SendReply(Reply{ThreadID: "th-1"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGmailSendRecordsThread(t *testing.T) {
	c := testGmail(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages/send"):
			var req sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Empty(t, req.ThreadID)
			json.NewEncoder(w).Encode(sendResponse{ID: "m-1", ThreadID: "th-1"})
		default:
			assert.Contains(t, r.URL.Path, "/messages/m-1")
			json.NewEncoder(w).Encode(map[string]any{
				"payload": map[string]any{
					"headers": []map[string]string{
						{"name": "Message-ID", "value": "<rfc-1@mail>"},
					},
				},
			})
		}
	})

	res, err := c.Send(Message{To: []string{"a@x.example"}, Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "th-1", res.ThreadID)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, "<rfc-1@mail>", res.RFCMessageID)
}

func TestGmailReplyThreadsMessage(t *testing.T) {
	c := testGmail(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages/send"):
			var req sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "th-1", req.ThreadID)
			decoded, err := base64.RawURLEncoding.DecodeString(req.Raw)
			require.NoError(t, err)
			assert.Contains(t, string(decoded), "In-Reply-To: <rfc-1@mail>")
			assert.Contains(t, string(decoded), "References: <rfc-1@mail>")
			json.NewEncoder(w).Encode(sendResponse{ID: "m-2", ThreadID: "th-1"})
		default:
			json.NewEncoder(w).Encode(map[string]any{"payload": map[string]any{"headers": []map[string]string{}}})
		}
	})

	res, err := c.SendReply(Reply{
		Message:   Message{To: []string{"a@x.example"}, Subject: "Completed", Body: "done"},
		ThreadID:  "th-1",
		InReplyTo: "<rfc-1@mail>",
	})
	require.NoError(t, err)
	assert.Equal(t, "th-1", res.ThreadID)
	assert.Equal(t, "<rfc-1@mail>", res.References, "in-reply-to becomes the reference chain")
}

func TestGmailHeaderFetchFailureTolerated(t *testing.T) {
	c := testGmail(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/messages/send") {
			json.NewEncoder(w).Encode(sendResponse{ID: "m-1", ThreadID: "th-1"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	res, err := c.Send(Message{To: []string{"a@x.example"}, Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "th-1", res.ThreadID)
	assert.Empty(t, res.RFCMessageID)
}

func TestGmailSendError(t *testing.T) {
	c := testGmail(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
	})
	_, err := c.Send(Message{To: []string{"a@x.example"}, Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
