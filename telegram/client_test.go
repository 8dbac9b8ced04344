package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
)

const testToken = "123:secret"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(testToken, func(o *ClientOptions) { o.BaseURL = srv.URL })
}

func TestClient_SendText(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":99}}`)
	})

	require.NoError(t, c.SendText(context.Background(), -100, 42, "*bold*", true))
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.EqualValues(t, -100, got["chat_id"])
	assert.EqualValues(t, 42, got["reply_to_message_id"])
	assert.Equal(t, "*bold*", got["text"])

	require.NoError(t, c.SendText(context.Background(), -100, 42, "plain", false))
	_, hasMode := got["parse_mode"]
	assert.False(t, hasMode)
}

func TestClient_SendTextErrors(t *testing.T) {
	t.Run("markup rejected", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Character '.' is reserved"}`)
		})

		err := c.SendText(context.Background(), 1, 2, "a.b", true)
		assert.ErrorIs(t, err, core.ErrRichFormat)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 400, apiErr.Code)

		err = c.SendText(context.Background(), 1, 2, "a.b", false)
		assert.NotErrorIs(t, err, core.ErrRichFormat)
	})

	t.Run("other api error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`)
		})

		err := c.SendText(context.Background(), 1, 2, "x", true)
		assert.NotErrorIs(t, err, core.ErrRichFormat)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "sendMessage", apiErr.Method)
	})

	t.Run("transport error hides token", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(testToken, func(o *ClientOptions) { o.BaseURL = srv.URL })

		err := c.SendText(context.Background(), 1, 2, "x", false)
		var te *core.TransportError
		require.True(t, errors.As(err, &te))
		assert.NotContains(t, err.Error(), "secret")
	})
}

func TestClient_SendBinary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendPhoto", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "-7", r.FormValue("chat_id"))
		assert.Equal(t, "8", r.FormValue("reply_to_message_id"))

		f, _, err := r.FormFile("photo")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("PNGDATA"), data)

		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	})

	require.NoError(t, c.SendBinary(context.Background(), -7, 8, []byte("PNGDATA")))
}

func TestClient_GetUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "30", r.URL.Query().Get("timeout"))
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":5,"message":{"message_id":1,"from":{"id":9,"username":"neo"},"chat":{"id":-3},"text":"/hey hi"}},
			{"update_id":6}
		]}`)
	})

	updates, err := c.GetUpdates(context.Background(), 5, 30)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "/hey hi", updates[0].Message.Text)
	assert.EqualValues(t, -3, updates[0].Message.Chat.ID)
	assert.Equal(t, "@neo", updates[0].Message.From.Mention())
	assert.Nil(t, updates[1].Message)
}

func TestClient_DecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>bad gateway</html>`)
	})

	_, err := c.GetMe(context.Background())
	var de *core.DecodeError
	assert.True(t, errors.As(err, &de))
}
