package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digkill/TGVisionBot/internal/config"
	"github.com/digkill/TGVisionBot/internal/models"
	"github.com/digkill/TGVisionBot/internal/openai"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

func newTestGateway(t *testing.T, handler http.Handler, timeout time.Duration) (*GatewayService, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.Config{
		ChatModel:   "gpt-4o",
		CodeModel:   "gpt-4o",
		ImageModel:  "dall-e-3",
		VisionModel: "gpt-4o",
		ImageSize:   "1024x1024",
	}
	backend := openai.NewClient("test-key", ts.URL, timeout, logger.New())
	return NewGatewayService(cfg, logger.New(), backend, nil), ts
}

func TestRunJobChatSuccess(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobChat, Prompt: "hi"})
	if !result.OK || result.Text != "hello there" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunJobTextToImageSuccess(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"url":"https://img.example/fox.png"}]}`))
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobTextToImage, Prompt: "a red fox"})
	if !result.OK || result.ImageURL != "https://img.example/fox.png" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunJobImageToImageSuccess(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"output_text":"a fox wearing a hat"}`))
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{
		Kind:     models.JobImageToImage,
		Prompt:   "add a hat",
		ImageURL: "https://img.example/fox.png",
	})
	if !result.OK || result.Text != "a fox wearing a hat" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunJobBackendError(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobChat, Prompt: "hi"})
	if result.OK {
		t.Fatal("500 must not produce an OK result")
	}
	if result.Reason != models.ReasonBackend {
		t.Fatalf("reason = %s, want %s", result.Reason, models.ReasonBackend)
	}
}

func TestRunJobMalformedReply(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobChat, Prompt: "hi"})
	if result.OK {
		t.Fatal("missing payload field must not produce an OK result")
	}
	if result.Reason != models.ReasonBadReply {
		t.Fatalf("reason = %s, want %s", result.Reason, models.ReasonBadReply)
	}
}

func TestRunJobTimeout(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}), 50*time.Millisecond)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobChat, Prompt: "hi"})
	if result.OK {
		t.Fatal("timeout must not produce an OK result")
	}
	if result.Reason != models.ReasonTimeout {
		t.Fatalf("reason = %s, want %s", result.Reason, models.ReasonTimeout)
	}
}

func TestRunJobImageToImageWithoutAsset(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called without an input image")
	}), time.Second)

	result := gw.RunJob(context.Background(), models.TransformJob{Kind: models.JobImageToImage, Prompt: "add a hat"})
	if result.OK {
		t.Fatal("missing input image must fail")
	}
}
