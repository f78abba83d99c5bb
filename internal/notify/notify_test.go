package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/notify"
)

type recordingSender struct {
	name   string
	err    error
	alerts []notify.Alert
}

func (r *recordingSender) Send(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

var resolved = notify.Alert{
	Event:  notify.EventMarketResolved,
	Market: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
	Title:  "Market resolved",
	Body:   "Will it rain?",
	Fields: []notify.Field{{Name: "winner", Value: "Yes"}},
}

func TestNotifier_FiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := notify.NewNotifier([]notify.Sender{s}, []string{" market_resolved "}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), resolved))
	require.NoError(t, n.Notify(context.Background(), notify.Alert{Event: notify.EventFetchExhausted}))

	assert.Len(t, s.alerts, 1)
	assert.True(t, n.Enabled(notify.EventMarketResolved))
	assert.False(t, n.Enabled(notify.EventFetchExhausted))
}

func TestNotifier_OneSenderFailing(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("webhook gone")}
	good := &recordingSender{name: "good"}
	n := notify.NewNotifier([]notify.Sender{bad, good}, nil, slog.Default())

	err := n.Notify(context.Background(), resolved)
	assert.ErrorContains(t, err, "bad: webhook gone")
	assert.Len(t, good.alerts, 1)
}

func TestNotifier_NilAndEmpty(t *testing.T) {
	var n *notify.Notifier
	assert.NoError(t, n.Notify(context.Background(), resolved))
	assert.False(t, notify.NewNotifier(nil, nil, slog.Default()).Enabled(notify.EventMarketResolved))
}

func TestDiscordSender(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title  string `json:"title"`
			Color  int    `json:"color"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, notify.NewDiscordSender(srv.URL).Send(context.Background(), resolved))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Market resolved", payload.Embeds[0].Title)
	assert.NotZero(t, payload.Embeds[0].Color)
	require.Len(t, payload.Embeds[0].Fields, 1)
	assert.Equal(t, "Yes", payload.Embeds[0].Fields[0].Value)
}

func TestTelegramSender(t *testing.T) {
	var (
		path string
		body map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, notify.NewTelegramSender(srv.URL, "tok", "42").Send(context.Background(), resolved))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "*Market resolved*")
	assert.Contains(t, body["text"], "winner: `Yes`")
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := notify.NewTelegramSender(srv.URL, "tok", "42").Send(context.Background(), resolved)
	assert.ErrorContains(t, err, "unexpected status 400")
}
