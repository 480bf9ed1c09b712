package bus

import (
	"log/slog"

	"github.com/tendant/url-thumbnailer/pkg/schema"
)

// Publisher is the subset of Client the notifier needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Notifier publishes task results on subject and stage transitions on
// subject + ".lifecycle". Publish failures are logged, never returned: a lost
// notification must not fail the job.
type Notifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewNotifier(pub Publisher, subject string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, subject: subject, logger: logger}
}

func (n *Notifier) TaskDone(done schema.TaskDone) {
	if err := n.pub.PublishJSON(n.subject, done); err != nil {
		n.logger.Error("publish result failed", "subject", n.subject, "task_id", done.TaskID, "err", err)
	}
}

func (n *Notifier) Lifecycle(event schema.TaskLifecycleEvent) {
	subject := n.subject + ".lifecycle"
	if err := n.pub.PublishJSON(subject, event); err != nil {
		n.logger.Error("publish lifecycle event failed", "subject", subject, "stage", event.Stage, "err", err)
	}
}
