package task

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/joshu-sajeev/pollq/internal/dto"
)

const (
	EchoType    = "echo"
	WebhookType = "webhook"
	EmailType   = "email"
)

// Echo logs the payload and succeeds. Useful to check a deployment end to end.
func Echo(logger *slog.Logger) Task {
	return echoTask{logger: logger}
}

type echoTask struct {
	logger *slog.Logger
}

func (t echoTask) Run(ctx context.Context, payload []byte, jobID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("echo", slog.Uint64("job_id", uint64(jobID)), slog.String("payload", string(payload)))
	return nil
}

func (echoTask) DefaultPayload() ([]byte, error) {
	return []byte("hi"), nil
}

// Webhook delivers dto.SendWebhookPayload with the given client.
func Webhook(client *http.Client) Task {
	if client == nil {
		client = &http.Client{}
	}
	return Typed(JSON, func(ctx context.Context, p dto.SendWebhookPayload, jobID uint) error {
		return sendWebhook(ctx, client, p, jobID)
	})
}

func sendWebhook(ctx context.Context, client *http.Client, p dto.SendWebhookPayload, jobID uint) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.Timeout)*time.Second)
		defer cancel()
	}

	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Queue-Job-ID", fmt.Sprint(jobID))
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", method, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if !delivered(resp.StatusCode, p.ExpectStatus) {
		return fmt.Errorf("webhook %s: unexpected status %d", method, resp.StatusCode)
	}
	return nil
}

func delivered(status int, expect []int) bool {
	if len(expect) > 0 {
		return slices.Contains(expect, status)
	}
	return status >= 200 && status < 300
}
