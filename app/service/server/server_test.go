package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hearth/app/service/agent"
	"hearth/app/service/queue"
	"hearth/app/service/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*Service, *room.Store, *queue.Service) {
	t.Helper()
	store := room.NewStore(t.TempDir())
	q := queue.NewService(1)
	return NewService(":0", store, q, time.Second), store, q
}

func send(t *testing.T, s *Service, method, path, body string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(data)
}

func TestHealthz(t *testing.T) {
	s, _, _ := newServer(t)

	code, body := send(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestPostMessage(t *testing.T) {
	s, _, q := newServer(t)

	go func() {
		req := <-q.Channel()
		req.Reply <- queue.Outcome{Reply: agent.Reply{Text: "hello " + req.Name, Reason: agent.EndAnswered}}
	}()

	code, body := send(t, s, http.MethodPost, "/rooms/alice/messages", `{"name": "Bob", "text": "hi"}`)
	require.Equal(t, http.StatusOK, code, body)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "hello Bob", resp.Reply)
	assert.Equal(t, "answered", resp.Reason)
}

func TestPostMessageValidation(t *testing.T) {
	s, _, q := newServer(t)

	code, _ := send(t, s, http.MethodPost, "/rooms/alice/messages", `{"text": "  "}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = send(t, s, http.MethodPost, "/rooms/.hidden/messages", `{"text": "hi"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	require.NoError(t, q.Add(queue.Request{Room: "alice"}))
	code, body := send(t, s, http.MethodPost, "/rooms/alice/messages", `{"text": "hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, queue.ErrFull.Error())
}

func TestPlanEndpoints(t *testing.T) {
	s, store, _ := newServer(t)

	code, _ := send(t, s, http.MethodGet, "/rooms/alice/plan", "")
	assert.Equal(t, http.StatusNotFound, code)

	r, err := store.Room("alice")
	require.NoError(t, err)

	code, _ = send(t, s, http.MethodGet, "/rooms/alice/plan", "")
	assert.Equal(t, http.StatusNotFound, code)

	_, err = r.SchedulePlan(room.ActionPlan{Intent: "bake bread", WakeUpTime: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	code, body := send(t, s, http.MethodGet, "/rooms/alice/plan", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"intent":"bake bread"`)

	code, _ = send(t, s, http.MethodDelete, "/rooms/alice/plan", "")
	assert.Equal(t, http.StatusNoContent, code)

	plan, err := r.ActivePlan()
	require.NoError(t, err)
	assert.Nil(t, plan)
}
