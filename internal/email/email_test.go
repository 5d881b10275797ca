package email

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhook/internal/models"
	"streamhook/internal/observability/logging"
)

func TestBodyEscapesContent(t *testing.T) {
	body := Body(models.Notification{Title: "<b>Alpha</b>", Body: "live", URL: "https://example.com/streamers/7"})
	assert.Contains(t, body, "&lt;b&gt;Alpha&lt;/b&gt;")
	assert.Contains(t, body, `href="https://example.com/streamers/7"`)
}

func TestSubjectFallsBackToTitle(t *testing.T) {
	assert.Equal(t, "Alpha just started streaming", Subject(models.Notification{Title: "Alpha", Body: "Alpha just started streaming"}))
	assert.Equal(t, "Alpha", Subject(models.Notification{Title: "Alpha"}))
}

func TestMailgunSenderPostsMessage(t *testing.T) {
	var form map[string][]string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			require.NoError(t, r.ParseMultipartForm(1<<20))
		} else {
			require.NoError(t, r.ParseForm())
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"<msg-1@mg.example.com>","message":"Queued. Thank you."}`))
	}))
	defer server.Close()

	sender, err := NewMailgunSender(MailgunConfig{
		Domain:  "mg.example.com",
		APIKey:  "key-test",
		Sender:  "Streamhook <noreply@example.com>",
		APIBase: server.URL + "/v3",
	})
	require.NoError(t, err)

	id, err := sender.Send(context.Background(), "fan@example.com", models.Notification{Title: "Alpha", Body: "Alpha just started streaming"})
	require.NoError(t, err)
	assert.Equal(t, "<msg-1@mg.example.com>", id)
	assert.Equal(t, "/v3/mg.example.com/messages", path)
	assert.Equal(t, []string{"fan@example.com"}, form["to"])
	assert.Equal(t, []string{"Alpha just started streaming"}, form["subject"])
}

func TestMailgunSenderSurfacesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	sender, err := NewMailgunSender(MailgunConfig{Domain: "mg.example.com", APIKey: "k", Sender: "a@example.com", APIBase: server.URL + "/v3"})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), "fan@example.com", models.Notification{Title: "Alpha"})
	require.Error(t, err)
}

func TestSendersRequireRecipient(t *testing.T) {
	sender, err := NewMailgunSender(MailgunConfig{Domain: "mg.example.com", APIKey: "k", Sender: "a@example.com"})
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), " ", models.Notification{})
	assert.ErrorIs(t, err, ErrMissingRecipient)

	_, err = NewLogSender(logging.Discard()).Send(context.Background(), "", models.Notification{})
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestNewMailgunSenderValidates(t *testing.T) {
	_, err := NewMailgunSender(MailgunConfig{Domain: "mg.example.com"})
	require.Error(t, err)
	_, err = NewMailgunSender(MailgunConfig{Domain: "mg.example.com", APIKey: "k"})
	require.Error(t, err)
}
