package emailsvc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteearly/noteearly/core"
	testutil "github.com/noteearly/noteearly/tests"
)

type sgPayload struct {
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	Personalizations []struct {
		Subject string `json:"subject"`
		To      []struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Categories []string `json:"categories"`
}

func newSendgridTest(t *testing.T, statuses ...int) (*SendgridService, *int32, chan sgPayload) {
	var calls int32
	payloads := make(chan sgPayload, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, sendgridEndpoint, r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))

		var p sgPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads <- p

		status := http.StatusAccepted
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	}))
	t.Cleanup(srv.Close)

	conf := core.NewTestConfig()
	conf.SendgridApiKey = "SG.test"
	svc := NewSendgridService(conf, testutil.NewLogger(t, conf))
	svc.host = srv.URL
	svc.backoff = func(int) time.Duration { return 0 }
	return svc, &calls, payloads
}

func TestSendgridService_Send(t *testing.T) {
	svc, calls, payloads := newSendgridTest(t)

	err := svc.send(&core.EmailMessage{
		To:           []mail.Address{{Name: "Ada", Address: "ada@example.com"}},
		Subject:      "Your subscription has ended",
		TemplateName: "subscription_ended",
		TemplateData: struct{ Name, PlanName string }{"Ada", "Classroom"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	p := <-payloads
	require.Len(t, p.Personalizations, 1)
	assert.Equal(t, "[NoteEarly] Your subscription has ended", p.Personalizations[0].Subject)
	require.Len(t, p.Personalizations[0].To, 1)
	assert.Equal(t, "ada@example.com", p.Personalizations[0].To[0].Email)
	assert.Equal(t, []string{"subscription_ended"}, p.Categories)

	require.Len(t, p.Content, 2)
	assert.Equal(t, "text/plain", p.Content[0].Type)
	assert.Contains(t, p.Content[0].Value, "Hi Ada,")
	assert.Equal(t, "text/html", p.Content[1].Type)
}

func TestSendgridService_Retry(t *testing.T) {
	msg := func() *core.EmailMessage {
		return &core.EmailMessage{
			To:      []mail.Address{{Address: "bob@example.com"}},
			Subject: "hello",
			BodyStr: "hello Bob",
		}
	}

	t.Run("retries throttled then succeeds", func(t *testing.T) {
		svc, calls, _ := newSendgridTest(t, http.StatusTooManyRequests, http.StatusBadGateway)
		require.NoError(t, svc.send(msg()))
		assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		svc, calls, _ := newSendgridTest(t, 500, 500, 500, 500)
		err := svc.send(msg())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sendgrid responded 500")
		assert.EqualValues(t, sendAttempts, atomic.LoadInt32(calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		svc, calls, _ := newSendgridTest(t, http.StatusBadRequest)
		require.Error(t, svc.send(msg()))
		assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	})

	t.Run("undeliverable messages are skipped", func(t *testing.T) {
		svc, calls, _ := newSendgridTest(t)
		require.NoError(t, svc.send(&core.EmailMessage{Subject: "nobody", BodyStr: "x"}))
		assert.Zero(t, atomic.LoadInt32(calls))
	})
}
