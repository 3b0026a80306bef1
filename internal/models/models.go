package models

import "time"

// Mode is the interaction mode governing how the next inbound message from
// a user is interpreted.
type Mode string

const (
	ModeIdle         Mode = "idle"
	ModeChat         Mode = "chat"
	ModeTextToImage  Mode = "text_to_image"
	ModeImageToImage Mode = "image_to_image"
	ModeCode         Mode = "code"
)

// JobKind selects the backend call a transform job is dispatched to.
type JobKind string

const (
	JobChat         JobKind = "chat"
	JobCode         JobKind = "code"
	JobTextToImage  JobKind = "text_to_image"
	JobImageToImage JobKind = "image_to_image"
)

// FailReason tags a failed job result.
type FailReason string

const (
	ReasonTimeout  FailReason = "timeout"
	ReasonBackend  FailReason = "backend"
	ReasonBadReply FailReason = "bad_reply"
)

// Account is the durable per-user quota record. Referrals holds the ids of
// users this account has already been credited for, so a referral pays out
// at most once per referee.
type Account struct {
	UserID     string
	Credits    int
	IsPremium  bool
	LastReset  time.Time
	ReferredBy string
	Referrals  []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TransformJob is one request/response exchange with a generative backend.
// It is never persisted and lives only for the duration of a gateway call.
type TransformJob struct {
	Kind     JobKind
	Prompt   string
	ImageURL string
}

// JobResult is the single normalized result shape for every backend call.
// Failures never cross the gateway boundary as errors; they arrive here
// tagged with a reason.
type JobResult struct {
	OK       bool
	Text     string
	ImageURL string
	Reason   FailReason
	Detail   string
}

// JobLog is one audit record of a dispatched job.
type JobLog struct {
	ID        int64
	UserID    string
	Kind      JobKind
	Prompt    string
	OK        bool
	CreatedAt time.Time
}
