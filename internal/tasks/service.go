package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/outbox"
)

const (
	archivedListLimit = 200
	ReplyTypeDone     = "done"
)

var (
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrInvalidCategory = errors.New("invalid triage category")
	ErrNoMessage       = errors.New("task has no linked message")
	ErrEmptyReply      = errors.New("reply body required")
)

// Service 管理任务的持久化与生命周期
type Service struct {
	conn         db.Conn
	tasks        *repository.TaskRepository
	outbox       *outbox.Repository
	archiveAfter time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewService(conn db.Conn, events *outbox.Repository, archiveAfterDays int, logger *zap.Logger) *Service {
	return &Service{
		conn:         conn,
		tasks:        repository.NewTaskRepository(conn),
		outbox:       events,
		archiveAfter: time.Duration(archiveAfterDays) * 24 * time.Hour,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

// Create claims the message and inserts the task with its task.created event
// in one transaction. A message already claimed yields repository.ErrDuplicate.
func (s *Service) Create(ctx context.Context, t *model.Task) error {
	err := db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		if err := s.tasks.WithTx(tx).Create(ctx, t); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, mqcontract.AggregateTask, t.ID, mqcontract.RoutingTaskCreated, mqcontract.TaskCreatedPayload{
			TaskID:         t.ID,
			MessageID:      t.MessageID,
			Subject:        t.Subject,
			SenderEmail:    t.SenderEmail,
			TriageCategory: string(t.TriageCategory),
			Priority:       string(t.Priority),
			Project:        t.Project,
		})
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	metrics.IncrementTaskGeneration("triage")
	return nil
}

// List 先执行归档清理，再返回未归档任务
func (s *Service) List(ctx context.Context) ([]*model.Task, error) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("auto-archive failed", zap.Error(err))
	}
	return s.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskNew, model.TaskInProgress, model.TaskPaused, model.TaskClosed},
	})
}

func (s *Service) Archived(ctx context.Context, search string) ([]*model.Task, error) {
	return s.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskArchived},
		Search:   search,
		Limit:    archivedListLimit,
	})
}

// Sweep archives closed tasks older than the retention window.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.tasks.ArchiveClosedBefore(ctx, now.Add(-s.archiveAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("auto-archived tasks", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

// Patch 只应用非 nil 字段
type Patch struct {
	Status         *string `json:"status"`
	TriageCategory *string `json:"triage_category"`
	DelegatedTo    *string `json:"delegated_to"`
}

func (s *Service) Update(ctx context.Context, id int64, p Patch) (*model.Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if p.Status != nil {
		st, ok := model.ParseTaskStatus(*p.Status)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
		}
		if err := s.transition(t, st, now); err != nil {
			return nil, err
		}
		if st == model.TaskClosed {
			t.ActionTaken = model.ActionManualCompletion
		}
	}
	if p.TriageCategory != nil {
		b, ok := model.NormalizeTriageBucket(*p.TriageCategory)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, *p.TriageCategory)
		}
		t.TriageCategory = b
	}
	if p.DelegatedTo != nil {
		t.DelegatedTo = strings.TrimSpace(*p.DelegatedTo)
		t.DelegatedAt = &now
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// transition 校验并应用状态变更；进入 closed 时记录 closed_at
func (s *Service) transition(t *model.Task, to model.TaskStatus, now time.Time) error {
	if t.Status == to {
		return nil
	}
	if !model.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.StatusUpdatedAt = &now
	if to == model.TaskClosed {
		t.ClosedAt = &now
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.tasks.Delete(ctx, id)
}

// Email 按稳定 message id 从邮箱取回原始邮件
func (s *Service) Email(ctx context.Context, mb mailbox.Client, id int64) (*mailbox.Message, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.MessageID == "" {
		return nil, ErrNoMessage
	}
	return mb.GetMessage(ctx, t.MessageID)
}

// Reply sends body as a reply-all to the task's message. replyType "done"
// also closes the task.
func (s *Service) Reply(ctx context.Context, mb mailbox.Client, id int64, body, replyType string) (*model.Task, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyReply
	}
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.MessageID == "" {
		return nil, ErrNoMessage
	}
	done := replyType == ReplyTypeDone
	if done && !model.CanTransition(t.Status, model.TaskClosed) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.Status, model.TaskClosed)
	}

	if err := mb.SendReply(ctx, t.MessageID, body); err != nil {
		return nil, err
	}

	now := s.now()
	t.ActionTaken = model.ActionRepliedViaApp
	if done {
		_ = s.transition(t, model.TaskClosed, now)
		t.ActionTaken = model.ActionCompletedReplied
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("reply sent but task not updated: %w", err)
	}
	return t, nil
}
