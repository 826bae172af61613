package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifierSendsToChat(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"payouts","username":"payouts_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.Form.Get("chat_id")+":"+r.Form.Get("text"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	n := &TelegramNotifier{Bot: bot, ChatID: 42}

	require.NoError(t, n.Notify(context.Background(), "run finished with 1 error"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"42:run finished with 1 error"}, sent)
}

func TestTelegramNotifierRequiresConfig(t *testing.T) {
	_, err := NewTelegramNotifier("", 42)
	require.Error(t, err)
	_, err = NewTelegramNotifier("token", 0)
	require.Error(t, err)
}
