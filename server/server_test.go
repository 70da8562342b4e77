package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatbridge/chatbridge/server"
	"github.com/chatbridge/chatbridge/server/config"
	"github.com/chatbridge/chatbridge/types"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "wh_e2esecret"

func newTestServer(t *testing.T, agent *fakeAgent) *server.FrontendServer {
	t.Helper()

	cfg, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(map[string]string{
		"WEBHOOK_SECRET":        testSecret,
		"SETTLE_DELAY":          "0",
		"RETRY_MAX_ATTEMPTS":    "2",
		"RETRY_DELAY":           "1ms",
		"ATTACHMENTS_BASE_PATH": t.TempDir(),
	}))
	require.NoError(t, err)

	srv, err := server.NewFrontendServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	srv.SetAgentClient(agent)
	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	return srv
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestSendEndToEnd(t *testing.T) {
	var sent *types.Message
	agent := &fakeAgent{
		sendMessageFn: func(_ context.Context, params types.MessageSendParams) (*types.Task, error) {
			sent = &params.Message
			return completedTask("t1", types.TaskStateSubmitted, nil), nil
		},
		setPushNotificationFn: func(context.Context, types.TaskPushNotificationConfig) error {
			return nil
		},
	}
	router := newTestServer(t, agent).Router()

	body, contentType := multipartBody(t, map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/chat/t1/send", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/chat/t1", rec.Header().Get("Location"))

	require.NotNil(t, sent)
	assert.Equal(t, types.RoleUser, sent.Role)
	require.NotNil(t, sent.TaskID)
	assert.Equal(t, "t1", *sent.TaskID)
	require.Len(t, sent.Parts, 1)
	require.NotNil(t, sent.Parts[0].Text)
	assert.Equal(t, "hello", *sent.Parts[0].Text)
}

func TestSendPathTaskIDOverridesFormField(t *testing.T) {
	var sent *types.Message
	agent := &fakeAgent{
		sendMessageFn: func(_ context.Context, params types.MessageSendParams) (*types.Task, error) {
			sent = &params.Message
			return completedTask("t1", types.TaskStateSubmitted, nil), nil
		},
		setPushNotificationFn: func(context.Context, types.TaskPushNotificationConfig) error {
			return nil
		},
	}
	router := newTestServer(t, agent).Router()

	body, contentType := multipartBody(t, map[string]string{
		"message": "hello",
		"task_id": "smuggled",
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/t1/send", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/chat/t1", rec.Header().Get("Location"))
	require.NotNil(t, sent)
	require.NotNil(t, sent.TaskID)
	assert.Equal(t, "t1", *sent.TaskID)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	body, contentType := multipartBody(t, map[string]string{"message": ""})
	req := httptest.NewRequest(http.MethodPost, "/chat/t1/send", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message cannot be empty")
}

func TestSendRequiresTaskID(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	// The bare /send route has no path task id; the form carries none
	// either.
	body, contentType := multipartBody(t, map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/send", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing task_id")
}

func TestChatPageDegradesWhenTaskInvisible(t *testing.T) {
	agent := &fakeAgent{
		getTaskFn: func(context.Context, types.TaskQueryParams) (*types.Task, error) {
			return nil, errors.New("task not found")
		},
	}
	router := newTestServer(t, agent).Router()

	req := httptest.NewRequest(http.MethodGet, "/chat/t1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		TaskID   string            `json:"task_id"`
		Found    bool              `json:"found"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "t1", view.TaskID)
	assert.False(t, view.Found)
	assert.Empty(t, view.Messages)
}

func TestWebhookRequiresExactBearerToken(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	for _, header := range []string{
		"",
		"Basic " + testSecret,
		"Bearer wrong",
		"Bearer " + testSecret + " ",
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/push-notification",
			strings.NewReader(`{"taskId":"t1","status":{"state":"working"}}`))
		req.Header.Set("Content-Type", "application/json")
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestWebhookReceiptAndNotificationList(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	req := httptest.NewRequest(http.MethodPost, "/webhook/push-notification",
		strings.NewReader(`{"taskId":"t1","status":{"state":"completed"},"final":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"status":"received","task_id":"t1","authenticated":true}`,
		rec.Body.String())

	// The update is now visible on the task's notification feed.
	req = httptest.NewRequest(http.MethodGet, "/chat/t1/notifications", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var feed struct {
		TaskID        string `json:"task_id"`
		Notifications []struct {
			State string `json:"state"`
			Final bool   `json:"final"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, "t1", feed.TaskID)
	require.Len(t, feed.Notifications, 1)
	assert.Equal(t, "completed", feed.Notifications[0].State)
	assert.True(t, feed.Notifications[0].Final)
}

func TestWebhookAcceptsFlatPushShape(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	req := httptest.NewRequest(http.MethodPost, "/webhook/push-notification",
		strings.NewReader(`{"taskId":"t2","state":"working"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":"t2"`)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestExpenseSubmitRedirectsToNewTask(t *testing.T) {
	agent := &fakeAgent{
		sendMessageFn: func(_ context.Context, params types.MessageSendParams) (*types.Task, error) {
			return completedTask(*params.Message.TaskID, types.TaskStateSubmitted, nil), nil
		},
		setPushNotificationFn: func(context.Context, types.TaskPushNotificationConfig) error {
			return nil
		},
	}
	router := newTestServer(t, agent).Router()

	form := "category=Travel&amount=10.00&date=2026-08-30&description=Taxi"
	req := httptest.NewRequest(http.MethodPost, "/expense/submit", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/chat/task-"))
}

func TestStreamDisabledReturnsNotFound(t *testing.T) {
	cfg, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(map[string]string{
		"WEBHOOK_SECRET":        testSecret,
		"STREAMING_ENABLED":     "false",
		"ATTACHMENTS_BASE_PATH": t.TempDir(),
	}))
	require.NoError(t, err)

	srv, err := server.NewFrontendServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	req := httptest.NewRequest(http.MethodGet, "/chat/t1/stream", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewChatRedirects(t *testing.T) {
	router := newTestServer(t, &fakeAgent{}).Router()

	req := httptest.NewRequest(http.MethodPost, "/chat/new", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/chat/task-"))
}
