// Package completion closes open tasks that the owner already answered from
// the mailbox with a completion keyword.
package completion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/internal/textnorm"
	"mailpilot/pkg/db"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/outbox"
)

var completionRegex = regexp.MustCompile(`(?i)\b(done|completed|resolved|fixed|handled|finished|closed)\b`)

const evidenceLimit = 100

type Scanner struct {
	conn    db.Conn
	tasks   *repository.TaskRepository
	outbox  *outbox.Repository
	maxSent int
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

func NewScanner(conn db.Conn, events *outbox.Repository, maxSent int, loc *time.Location, logger *zap.Logger) *Scanner {
	if loc == nil {
		loc = time.UTC
	}
	return &Scanner{
		conn:    conn,
		tasks:   repository.NewTaskRepository(conn),
		outbox:  events,
		maxSent: maxSent,
		loc:     loc,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Scan returns how many tasks it closed. Failures are logged and count as 0.
func (s *Scanner) Scan(ctx context.Context, mb mailbox.Client, w mailbox.Window) int {
	open, err := s.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskNew, model.TaskInProgress},
	})
	if err != nil {
		s.logger.Error("auto-completion scan: load open tasks failed", zap.Error(err))
		return 0
	}
	if len(open) == 0 {
		return 0
	}
	byMessage := make(map[string]*model.Task, len(open))
	for _, t := range open {
		if t.MessageID != "" {
			byMessage[mailbox.NormalizeMessageID(t.MessageID)] = t
		}
	}

	sent, err := mb.FetchSent(ctx, w, s.maxSent)
	if err != nil {
		s.logger.Error("auto-completion scan: fetch sent items failed", zap.Error(err))
		return 0
	}

	closed := 0
	for i := range sent {
		reply := &sent[i]
		key := mailbox.NormalizeMessageID(reply.InReplyTo)
		task, ok := byMessage[key]
		if key == "" || !ok {
			continue
		}
		body := textnorm.CleanBody(reply.Body)
		if !completionRegex.MatchString(body) {
			continue
		}
		if err := s.complete(ctx, task, reply, body); err != nil {
			s.logger.Error("auto-complete task failed", zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		delete(byMessage, key)
		closed++
		s.logger.Info("task auto-completed from reply",
			zap.Int64("task_id", task.ID),
			zap.String("reply_subject", reply.Subject),
		)
	}

	if closed > 0 {
		metrics.IncrementAutoCompletion(closed)
	}
	return closed
}

func (s *Scanner) complete(ctx context.Context, task *model.Task, reply *mailbox.Message, body string) error {
	now := s.now()
	task.Status = model.TaskClosed
	task.ActionTaken = model.ActionAutoCompleted
	task.AutoCompletedAt = &now
	task.ClosedAt = &now
	task.StatusUpdatedAt = &now
	task.CompletionEvidence = evidence(reply, body, s.loc)

	return db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		if err := s.tasks.WithTx(tx).Save(ctx, task); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, mqcontract.AggregateTask, task.ID, mqcontract.RoutingTaskAutoCompleted, mqcontract.TaskAutoCompletedPayload{
			TaskID:          task.ID,
			MessageID:       task.MessageID,
			ReplyMessageID:  reply.ID,
			AutoCompletedAt: now,
		})
	})
}

func evidence(reply *mailbox.Message, body string, loc *time.Location) string {
	at := reply.SentAt
	if at.IsZero() {
		at = reply.ReceivedAt
	}
	snippet := strings.Join(strings.Fields(body), " ")
	if trimmed := textnorm.Truncate(snippet, evidenceLimit); trimmed != snippet {
		snippet = trimmed + "..."
	}
	return fmt.Sprintf("Replied on %s: \"%s\"", at.In(loc).Format("2006-01-02 15:04"), snippet)
}
