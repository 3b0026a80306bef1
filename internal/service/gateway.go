package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/digkill/TGVisionBot/internal/config"
	"github.com/digkill/TGVisionBot/internal/models"
	"github.com/digkill/TGVisionBot/internal/openai"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

// Uploader hosts raw media bytes and returns a stable public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// GatewayService fronts the hosting service and the generative backend.
// RunJob never returns an error: every transport failure, bad status,
// timeout and malformed reply is folded into a tagged JobResult so the
// dispatcher reacts to exactly one shape.
type GatewayService struct {
	cfg      config.Config
	log      *slog.Logger
	backend  *openai.Client
	uploader Uploader
}

func NewGatewayService(cfg config.Config, log *slog.Logger, backend *openai.Client, uploader Uploader) *GatewayService {
	return &GatewayService{
		cfg:      cfg,
		log:      log,
		backend:  backend,
		uploader: uploader,
	}
}

// HostMedia uploads raw bytes through the configured hosting provider.
func (s *GatewayService) HostMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	url, err := s.uploader.Upload(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("host media: %w", err)
	}
	return url, nil
}

// RunJob dispatches one transform job to the backend call selected by its
// kind. Single attempt, bounded by the backend client timeout.
func (s *GatewayService) RunJob(ctx context.Context, job models.TransformJob) models.JobResult {
	var (
		text     string
		imageURL string
		err      error
	)

	switch job.Kind {
	case models.JobChat, models.JobCode:
		model := s.cfg.ChatModel
		if job.Kind == models.JobCode {
			model = s.cfg.CodeModel
		}
		text, err = s.backend.ChatCompletion(ctx, model, job.Prompt)
	case models.JobTextToImage:
		imageURL, err = s.backend.GenerateImage(ctx, s.cfg.ImageModel, job.Prompt, s.cfg.ImageSize)
	case models.JobImageToImage:
		if job.ImageURL == "" {
			return models.JobResult{OK: false, Reason: models.ReasonBadReply, Detail: "missing input image"}
		}
		text, err = s.backend.TransformImage(ctx, s.cfg.VisionModel, job.Prompt, job.ImageURL)
	default:
		return models.JobResult{OK: false, Reason: models.ReasonBadReply, Detail: fmt.Sprintf("unsupported job kind: %s", job.Kind)}
	}

	if err != nil {
		reason := classifyFailure(err)
		s.log.Error("job failed", "kind", job.Kind, "reason", reason, logger.Err(err))
		return models.JobResult{OK: false, Reason: reason, Detail: err.Error()}
	}

	return models.JobResult{OK: true, Text: text, ImageURL: imageURL}
}

func classifyFailure(err error) models.FailReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ReasonTimeout
	}
	if errors.Is(err, openai.ErrMalformedReply) {
		return models.ReasonBadReply
	}
	return models.ReasonBackend
}
