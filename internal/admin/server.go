package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVisionBot/internal/service"
	"github.com/digkill/TGVisionBot/internal/telegram"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

// Server is the operator HTTP panel: account inspection, premium and credit
// grants, broadcast. Everything behind basic auth.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	quota    *service.QuotaService
	bot      telegram.API
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, quota *service.QuotaService, bot telegram.API) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		quota:    quota,
		bot:      bot,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/premium", s.handleGrantPremium)
			r.Post("/credits", s.handleGrantCredits)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", logger.Err(err))
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type userResponse struct {
	UserID    string   `json:"user_id"`
	Credits   int      `json:"credits"`
	IsPremium bool     `json:"is_premium"`
	Referrals []string `json:"referrals"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := s.quota.Account(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrUnknownAccount) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.log.Error("admin get user", "id", id, logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, userResponse{
		UserID:    account.UserID,
		Credits:   account.Credits,
		IsPremium: account.IsPremium,
		Referrals: account.Referrals,
	})
}

func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.quota.GrantPremium(r.Context(), id); err != nil {
		s.log.Error("admin grant premium", "id", id, logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("premium granted", "id", id)
	writeJSON(w, map[string]string{"status": "ok"})
}

type creditsRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		http.Error(w, "delta required", http.StatusBadRequest)
		return
	}
	if err := s.quota.GrantCredits(r.Context(), id, req.Delta); err != nil {
		s.log.Error("admin grant credits", "id", id, logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("credits granted", "id", id, "delta", req.Delta)
	writeJSON(w, map[string]string{"status": "ok"})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.quota.ListUserIDs(r.Context())
	if err != nil {
		s.log.Error("list user ids", logger.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	count := 0
	for _, id := range ids {
		chatID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, req.Message)); err != nil {
			s.log.Error("broadcast send", "id", id, logger.Err(err))
			continue
		}
		count++
	}

	writeJSON(w, map[string]int{"sent": count})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
