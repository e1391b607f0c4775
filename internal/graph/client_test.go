package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{
		AppID:       "app-1",
		AppSecret:   "app-secret",
		RedirectURI: "http://localhost/auth/instagram/callback",
		BaseURL:     srv.URL,
	}, testLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func graphError(w http.ResponseWriter, status, code, subcode int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "code": code, "error_subcode": subcode},
	})
}

func TestExchangeCodeSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "app-1", q.Get("client_id"))
		assert.Equal(t, "app-secret", q.Get("client_secret"))
		assert.Equal(t, "good-code", q.Get("code"))
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "user-tok"})
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-tok", r.URL.Query().Get("access_token"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "page-1", "name": "My Page", "access_token": "page-tok"},
		}})
	})
	mux.HandleFunc("/page-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "page-tok", r.URL.Query().Get("access_token"))
		writeJSON(w, http.StatusOK, map[string]any{
			"connected_instagram_account": map[string]string{"id": "ig-9"},
		})
	})

	client := newTestClient(t, mux)
	creds, err := client.ExchangeCode(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, "page-tok", creds.AccessToken)
	assert.Equal(t, "page-1", creds.PageID)
	assert.Equal(t, "ig-9", creds.IGUserID)
	assert.Equal(t, DeclaredScopes, creds.Scopes)
	assert.Equal(t, "user-tok", creds.UserAccessToken)
	assert.True(t, creds.Usable())
}

func TestExchangeCodeRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		graphError(w, http.StatusBadRequest, 100, 0, "invalid code")
	})

	client := newTestClient(t, mux)
	_, err := client.ExchangeCode(context.Background(), "bad-code")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, "invalid code or provider rejected exchange", exchangeErr.Reason)
}

func TestExchangeCodeMissingTokenField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	client := newTestClient(t, mux)
	_, err := client.ExchangeCode(context.Background(), "odd-code")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
}

func TestExchangeCodeBusinessFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "user-tok"})
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{}})
	})
	mux.HandleFunc("/me/businesses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "biz-1", "name": "Holding"},
		}})
	})
	mux.HandleFunc("/biz-1/owned_pages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{}})
	})
	mux.HandleFunc("/biz-1/client_pages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "page-2", "name": "Client Page", "access_token": "page-tok-2"},
		}})
	})
	mux.HandleFunc("/page-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected_instagram_account": map[string]string{"id": "ig-2"},
		})
	})

	client := newTestClient(t, mux)
	creds, err := client.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, "page-2", creds.PageID)
	assert.Equal(t, "ig-2", creds.IGUserID)
	assert.Equal(t, "page-tok-2", creds.AccessToken)
}

func TestExchangeCodeNoManageableResources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "user-tok"})
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{}})
	})
	mux.HandleFunc("/me/businesses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{}})
	})

	client := newTestClient(t, mux)
	_, err := client.ExchangeCode(context.Background(), "code")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, "no manageable resources", exchangeErr.Reason)
}

func TestExchangeCodeProbeSkipsFailingPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "user-tok"})
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "page-broken", "access_token": "tok-a"},
			{"id": "page-bare"},
			{"id": "page-good", "access_token": "tok-b"},
		}})
	})
	mux.HandleFunc("/page-broken", func(w http.ResponseWriter, r *http.Request) {
		graphError(w, http.StatusInternalServerError, 1, 0, "transient")
	})
	mux.HandleFunc("/page-bare", func(w http.ResponseWriter, r *http.Request) {
		// No page token: probe falls back to the user token.
		assert.Equal(t, "user-tok", r.URL.Query().Get("access_token"))
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("/page-good", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected_instagram_account": map[string]string{"id": "ig-3"},
		})
	})

	client := newTestClient(t, mux)
	creds, err := client.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, "page-good", creds.PageID)
	assert.Equal(t, "ig-3", creds.IGUserID)
}

func TestExchangeCodeNoLinkedAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "user-tok"})
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "page-1", "access_token": "tok"},
		}})
	})
	mux.HandleFunc("/page-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	client := newTestClient(t, mux)
	_, err := client.ExchangeCode(context.Background(), "code")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, "no linked child account", exchangeErr.Reason)
}

func TestSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "page-tok", r.URL.Query().Get("access_token"))

		var body struct {
			Recipient     map[string]string `json:"recipient"`
			Message       map[string]string `json:"message"`
			MessagingType string            `json:"messaging_type"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "psid-1", body.Recipient["id"])
		assert.Equal(t, "hello", body.Message["text"])
		assert.Equal(t, "RESPONSE", body.MessagingType)

		writeJSON(w, http.StatusOK, map[string]string{"message_id": "mid-1", "recipient_id": "psid-1"})
	})

	client := newTestClient(t, mux)
	result, err := client.SendMessage(context.Background(), "page-tok", "psid-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "mid-1", result.MessageID)
	assert.Equal(t, "psid-1", result.RecipientID)
}

func TestSendMessageInvalidRecipient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		graphError(w, http.StatusBadRequest, 551, 0, "This person isn't available right now.")
	})

	client := newTestClient(t, mux)
	_, err := client.SendMessage(context.Background(), "page-tok", "gone", "hello")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.InvalidRecipient())
	assert.Equal(t, 551, sendErr.Code)
	assert.Contains(t, sendErr.Message, "available")
}

func TestSendMessageProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		graphError(w, http.StatusForbidden, 10, 2018065, "Outside of allowed window")
	})

	client := newTestClient(t, mux)
	_, err := client.SendMessage(context.Background(), "page-tok", "psid-1", "hello")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.False(t, sendErr.InvalidRecipient())
	assert.Equal(t, http.StatusForbidden, sendErr.Status)
}

func TestSendMessageTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	client := New(Config{BaseURL: srv.URL}, testLogger())
	_, err := client.SendMessage(context.Background(), "tok", "psid", "hi")

	require.Error(t, err)
	var sendErr *SendError
	assert.False(t, errors.As(err, &sendErr))
}

func TestListConversations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ig-9/conversations", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "instagram", q.Get("platform"))
		assert.Equal(t, "page-tok", q.Get("access_token"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{
				"id":           "conv-1",
				"participants": map[string]any{"data": []map[string]string{{"id": "u1"}, {"id": "ig-9"}}},
				"updated_time": "2024-01-01T00:00:00+0000",
			},
		}})
	})

	client := newTestClient(t, mux)
	conversations, err := client.ListConversations(context.Background(), &Credentials{
		AccessToken: "page-tok",
		IGUserID:    "ig-9",
	})
	require.NoError(t, err)

	require.Len(t, conversations, 1)
	assert.Equal(t, "conv-1", conversations[0].ID)
	assert.Equal(t, []string{"u1", "ig-9"}, conversations[0].Participants)
}

func TestProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "page-1", "name": "Linked", "access_token": "tok"},
			{"id": "page-2", "name": "Unlinked", "access_token": "tok"},
		}})
	})
	mux.HandleFunc("/page-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected_instagram_account": map[string]string{"id": "ig-1"},
		})
	})
	mux.HandleFunc("/page-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	client := newTestClient(t, mux)
	pages, err := client.Probe(context.Background(), "user-tok")
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, "ig-1", pages[0].ConnectedInstagramAccount)
	assert.Empty(t, pages[1].ConnectedInstagramAccount)
}

func TestLoginURL(t *testing.T) {
	client := New(Config{
		AppID:       "app-1",
		RedirectURI: "http://localhost/cb",
		APIVersion:  "19.0",
	}, testLogger())

	url, err := client.LoginURL()
	require.NoError(t, err)
	assert.Contains(t, url, "https://www.facebook.com/v19.0/dialog/oauth?")
	assert.Contains(t, url, "client_id=app-1")
	assert.Contains(t, url, "response_type=code")
	assert.Contains(t, url, "instagram_manage_messages")
}

func TestLoginURLUnconfigured(t *testing.T) {
	client := New(Config{}, testLogger())
	_, err := client.LoginURL()
	assert.Error(t, err)
}
