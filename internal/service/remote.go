package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/metrics"
	"statebridge/internal/repository"
)

const DefaultOperationTimeout = 5 * time.Second

// Notifier delivers user-visible notices to an identity's sessions.
type Notifier interface {
	Notify(identityID string, notice domain.Notice)
}

// PlatformSource exposes the live platform facts of this process.
type PlatformSource interface {
	Platform() domain.PlatformDescriptor
	PlatformType() domain.PlatformType
}

type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(identityID string, notice domain.Notice) {
	loggerOrDefault(n.Logger).Warn("user notice",
		"identity", identityID,
		"kind", notice.Kind,
		"message", notice.Message,
	)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultOperationTimeout
	}
	return d
}

// remoteCall bounds fn by timeout and records its latency. A missing record
// is a normal outcome and is not counted as a failed call.
func remoteCall(ctx context.Context, timeout time.Duration, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(timeout))
	defer cancel()

	started := time.Now()
	err := fn(ctx)

	observed := err
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrCodeNotRedeemable) {
		observed = nil
	}
	metrics.ObserveBackendCall(operation, started, observed)
	return err
}

func newNotice(kind domain.NoticeKind, message string, data map[string]any) domain.Notice {
	return domain.Notice{
		Kind:      kind,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
