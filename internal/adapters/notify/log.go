package notify

import (
	"context"
	"log/slog"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

// LogNotifier records terminal jobs in the structured log. It stands in
// for mail delivery, which lives outside this service.
type LogNotifier struct {
	logger *slog.Logger
}

var _ ports.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) NotifyTerminal(_ context.Context, job domain.Job) error {
	attrs := []any{
		"task_id", job.ID,
		"status", job.Status,
		"task_type", job.TaskType,
		"step", job.CurrentStep,
	}
	if job.ResultID != nil {
		attrs = append(attrs, "result_id", *job.ResultID)
	}
	if job.ErrorMessage != nil {
		attrs = append(attrs, "error", *job.ErrorMessage)
	}
	n.logger.Info("task reached terminal state", attrs...)
	return nil
}
