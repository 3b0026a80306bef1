package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVisionBot/internal/repository"
	"github.com/digkill/TGVisionBot/internal/service"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

type fakeBot struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{}, nil
}

func (f *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return nil
}

func (f *fakeBot) StopReceivingUpdates() {}

func newTestServer(t *testing.T) (*Server, *service.QuotaService, *fakeBot) {
	t.Helper()
	store := repository.NewMemoryAccountStore()
	quota := service.NewQuotaService(store, 2, 1)
	bot := &fakeBot{}
	return NewServer(":0", "admin", "secret", logger.New(), quota, bot), quota, bot
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.SetBasicAuth("admin", "secret")
	return req
}

func TestAdminRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/100/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminGrantPremiumAndGetUser(t *testing.T) {
	srv, quota, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, authedRequest(http.MethodPost, "/users/100/premium", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("premium status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/users/100/", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var user userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !user.IsPremium {
		t.Fatal("premium flag not set")
	}
}

func TestAdminGrantCredits(t *testing.T) {
	srv, quota, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, authedRequest(http.MethodPost, "/users/100/credits", `{"delta":5}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("credits status = %d, body = %s", rec.Code, rec.Body.String())
	}

	account, err := quota.Account(ctx, "100")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Credits != 7 {
		t.Fatalf("credits = %d, want 7", account.Credits)
	}
}

func TestAdminGetUnknownUser(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/users/404/", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminBroadcast(t *testing.T) {
	srv, quota, bot := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if _, err := quota.EnsureAccount(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, authedRequest(http.MethodPost, "/broadcast", `{"message":"maintenance tonight"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if bot.sent != 3 {
		t.Fatalf("broadcast sent %d messages, want 3", bot.sent)
	}
}
