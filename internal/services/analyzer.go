package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/avast/retry-go/v4"
)

// Retry defaults for page analysis.
const (
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultRateLimitCooldown = 30 * time.Second
)

// TaskContext is the per-task information the analyzer needs for a page.
type TaskContext struct {
	TaskID       string
	FileName     string
	TotalPages   int
	Mode         string
	Language     string
	DocumentType string
}

// RetryPolicy controls how often and how patiently a page is retried.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RateLimitCooldown time.Duration
	// CallTimeout bounds a single extraction call. Zero means no bound.
	CallTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s doubling backoff and a 30s rate-limit cooldown.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		RateLimitCooldown: DefaultRateLimitCooldown,
	}
}

// PageAnalyzer extracts the content of a single page. It holds no task state.
type PageAnalyzer struct {
	extractor ExtractionService
	pages     PageStore
	policy    RetryPolicy
	timer     retry.Timer
}

func NewPageAnalyzer(extractor ExtractionService, pages PageStore, policy RetryPolicy) *PageAnalyzer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &PageAnalyzer{extractor: extractor, pages: pages, policy: policy}
}

// nextDelay returns the backoff before the next attempt. Rate-limit
// failures wait the cooldown and leave the exponential schedule untouched.
func (p RetryPolicy) nextDelay(err error, backoffs *int) time.Duration {
	if ClassOf(err) == FailureRateLimited {
		return p.RateLimitCooldown
	}
	d := p.BaseDelay
	for i := 0; i < *backoffs; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
	}
	*backoffs++
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Analyze never returns an error: failures are recorded on the PageResult.
func (a *PageAnalyzer) Analyze(ctx context.Context, tc TaskContext, page models.PageImage) models.PageResult {
	logCtx := slog.With("taskId", tc.TaskID, "page", page.PageNumber)
	result := models.PageResult{PageNumber: page.PageNumber}

	image, err := a.pages.GetPage(ctx, tc.TaskID, page.PageNumber)
	if err != nil {
		logCtx.Error("Failed to load page image.", "error", err)
		result.Error = err.Error()
		return result
	}

	req := ExtractionRequest{
		Instruction: gcp.BuildExtractionPrompt(gcp.PromptParams{
			Mode:         tc.Mode,
			PageNumber:   page.PageNumber,
			TotalPages:   tc.TotalPages,
			Language:     tc.Language,
			DocumentType: tc.DocumentType,
		}),
		Image:    image,
		MIMEType: page.MIMEType,
	}

	backoffs := 0
	var resp *ExtractionResponse
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(a.policy.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ClassOf(err) != FailurePermanent
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return a.policy.nextDelay(err, &backoffs)
		}),
		retry.OnRetry(func(n uint, err error) {
			logCtx.Warn("Extraction attempt failed.",
				"attempt", n+1,
				"maxAttempts", a.policy.MaxAttempts,
				"class", ClassOf(err),
				"error", err,
			)
		}),
	}
	if a.timer != nil {
		opts = append(opts, retry.WithTimer(a.timer))
	}

	err = retry.Do(func() error {
		result.Attempts++
		callCtx := ctx
		if a.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, a.policy.CallTimeout)
			defer cancel()
		}
		r, err := a.extractor.Extract(callCtx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, opts...)
	if err != nil {
		logCtx.Error("Page analysis failed.", "attempts", result.Attempts, "error", err)
		result.Error = err.Error()
		return result
	}

	result.Content = resp.Text
	result.Confidence = resp.Confidence
	logCtx.Info("Page analyzed.", "attempts", result.Attempts)
	return result
}
