package cron

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tau-run/tau/internal/atomicfile"
	"github.com/tau-run/tau/pkg/models"
)

// VerifyWebhookSignature checks body against the signature scheme
// req.Algorithm describes, rejecting mismatches and stale timestamps.
// github_sha256 is HMAC-SHA256 of the raw body compared (constant time)
// against "sha256=<hex>"; slack_v0 is HMAC-SHA256 of "v0:timestamp:body"
// compared against "v0=<hex>", with req.Timestamp checked to be within
// SignatureMaxSkewSecs of now.
func VerifyWebhookSignature(req models.WebhookImmediateEvent, body []byte, now time.Time) error {
	switch req.Algorithm {
	case models.WebhookSignatureGitHubSHA256:
		mac := hmac.New(sha256.New, []byte(req.Secret))
		mac.Write(body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
			return fmt.Errorf("cron: github_sha256 signature mismatch")
		}
		return nil

	case models.WebhookSignatureSlackV0:
		if req.SignatureMaxSkewSecs > 0 {
			skew := now.Unix() - req.Timestamp
			if skew < 0 {
				skew = -skew
			}
			if skew > req.SignatureMaxSkewSecs {
				return fmt.Errorf("cron: slack_v0 timestamp stale: skew %ds exceeds max %ds", skew, req.SignatureMaxSkewSecs)
			}
		}
		base := fmt.Sprintf("v0:%d:%s", req.Timestamp, body)
		mac := hmac.New(sha256.New, []byte(req.Secret))
		mac.Write([]byte(base))
		expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
			return fmt.Errorf("cron: slack_v0 signature mismatch")
		}
		return nil

	default:
		return fmt.Errorf("cron: unknown webhook signature algorithm %q", req.Algorithm)
	}
}

// IngestWebhook verifies req's signature against body, then writes a new
// immediate EventDefinition file into definitionsDir so the scheduler
// picks it up on its next tick (or immediately, via the fsnotify watch).
func IngestWebhook(definitionsDir string, req models.WebhookImmediateEvent, body []byte, now time.Time) (models.EventDefinition, error) {
	if err := VerifyWebhookSignature(req, body, now); err != nil {
		return models.EventDefinition{}, err
	}

	def := models.EventDefinition{
		ID:        "webhook-" + uuid.NewString(),
		Channel:   req.Channel,
		Prompt:    string(body),
		Schedule:  models.Schedule{Kind: models.ScheduleImmediate},
		Enabled:   true,
		CreatedAt: now.UnixMilli(),
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return models.EventDefinition{}, fmt.Errorf("cron: encode definition: %w", err)
	}
	path := filepath.Join(definitionsDir, def.ID+".json")
	if err := atomicfile.WriteText(path, data); err != nil {
		return models.EventDefinition{}, err
	}
	return def, nil
}
