// Package approval 处理审批类邮件：5W1H 风险分析、人工决策执行与审计日志
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/heuristics"
	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/outbox"
)

const (
	MsgNotFound      = "Request not found"
	MsgInvalidAction = "Invalid action"

	fallbackDetails = "Automatic analysis failed. Review email manually."
	defaultHistory  = 50
)

// ModelSource 返回当前分析使用的模型名
type ModelSource interface {
	Model(ctx context.Context) string
}

type Engine struct {
	conn      db.Conn
	approvals *repository.ApprovalRepository
	gen       llm.Generator
	models    ModelSource
	outbox    *outbox.Repository
	now       func() time.Time
	logger    *zap.Logger
}

func NewEngine(conn db.Conn, gen llm.Generator, models ModelSource, events *outbox.Repository, logger *zap.Logger) *Engine {
	return &Engine{
		conn:      conn,
		approvals: repository.NewApprovalRepository(conn),
		gen:       gen,
		models:    models,
		outbox:    events,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// IsPotentialApproval is the keyword pre-filter, usable without a full triage.
func IsPotentialApproval(subject, body string) bool {
	return heuristics.IsPotentialApproval(subject, body)
}

// Ingest turns msg into a Pending ApprovalRequest. An existing request for the
// same message is returned as is. ok=false means nothing was stored and the
// caller should route the message elsewhere.
func (e *Engine) Ingest(ctx context.Context, msg *mailbox.Message) (req *model.ApprovalRequest, ok bool) {
	log := e.logger.With(zap.String("message_id", msg.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("approval ingestion panicked", zap.Any("panic", r))
			req, ok = nil, false
		}
	}()

	if existing, err := e.approvals.GetByMessageID(ctx, msg.ID); err == nil {
		log.Info("approval request already exists", zap.Int64("approval_id", existing.ID))
		return existing, true
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Error("approval lookup failed", zap.Error(err))
		return nil, false
	}

	req = e.analyze(ctx, msg)
	err := db.WithTx(ctx, e.conn, func(tx db.Tx) error {
		repo := e.approvals.WithTx(tx)
		if err := repo.Create(ctx, req); err != nil {
			return err
		}
		if err := repo.AppendAudit(ctx, &model.AuditLog{
			ApprovalID: req.ID,
			Action:     model.AuditAIClassified,
			Metadata:   map[string]any{"score": req.Confidence},
			Timestamp:  req.CreatedAt,
		}); err != nil {
			return err
		}
		return e.outbox.Enqueue(ctx, tx, mqcontract.AggregateApproval, req.ID, mqcontract.RoutingApprovalCreated, mqcontract.ApprovalCreatedPayload{
			ApprovalID:     req.ID,
			MessageID:      req.MessageID,
			RequestType:    req.RequestType,
			RiskLevel:      string(req.RiskLevel),
			Recommendation: string(req.Recommendation),
			Confidence:     req.Confidence,
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// 并发同步抢先写入了同一封邮件
		if existing, gerr := e.approvals.GetByMessageID(ctx, msg.ID); gerr == nil {
			return existing, true
		}
		log.Info("message already claimed by a task")
		return nil, false
	}
	if err != nil {
		log.Error("approval ingestion failed", zap.Error(err))
		return nil, false
	}

	log.Info("approval request created",
		zap.Int64("approval_id", req.ID),
		zap.String("risk", string(req.RiskLevel)),
		zap.String("recommendation", string(req.Recommendation)),
	)
	return req, true
}

// analyze 构造待保存的请求；模型不可用或输出无法解析时使用固定的兜底分析
func (e *Engine) analyze(ctx context.Context, msg *mailbox.Message) *model.ApprovalRequest {
	now := e.now()
	sender := msg.From.DisplayName()
	req := &model.ApprovalRequest{
		MessageID:      msg.ID,
		Item:           msg.Item,
		Subject:        msg.Subject,
		Sender:         sender,
		SenderEmail:    strings.ToLower(msg.From.Email),
		RequestType:    "General",
		Summary:        msg.Subject,
		Details:        model.FiveW1H{Details: fallbackDetails},
		RiskLevel:      model.RiskMedium,
		Recommendation: model.RecommendReview,
		Status:         model.ApprovalPending,
		ReceivedAt:     msg.ReceivedAt.UTC(),
		CreatedAt:      now,
	}
	if msg.ReceivedAt.IsZero() {
		req.ReceivedAt = now
	}

	text, ok := e.gen.Generate(ctx, llm.ApprovalRequest(e.models.Model(ctx), msg.Subject, msg.Body))
	data, parsed := llm.ExtractJSON(text)
	if !ok || !parsed {
		e.logger.Warn("approval analysis failed, using fallback", zap.String("message_id", msg.ID))
	} else {
		req.RequestType = model.NormalizeRequestType(data.Text("request_type"))
		if s := data.Text("summary"); s != "" {
			req.Summary = s
		}
		req.Details = fiveW1H(data.Object("5w1h"))
		req.RiskLevel = model.NormalizeRisk(data.Text("risk_level"))
		req.Recommendation = model.NormalizeRecommendation(data.Text("recommendation"))
		score, _ := data.Float("confidence_score")
		req.Confidence = model.NormalizeConfidence(score)
		req.ImpactAnalysis = data.Text("impact_analysis")
		req.ConflictFlag = data.Text("conflict_flag")
	}
	if strings.TrimSpace(req.Details.Who) == "" {
		req.Details.Who = sender
	}
	return req
}

func fiveW1H(o llm.Object) model.FiveW1H {
	return model.FiveW1H{
		Who:     o.Text("who"),
		What:    o.Text("what"),
		When:    o.Text("when"),
		Where:   o.Text("where"),
		Why:     o.Text("why"),
		How:     o.Text("how"),
		Details: o.Text("details"),
	}
}

// ExecuteAction records a human decision and replies to the requester through
// mb. The reply is sent last inside the transaction, so a failed send leaves
// the request Pending. It never returns an error; the message is meant for
// the user.
func (e *Engine) ExecuteAction(ctx context.Context, mb mailbox.Client, id int64, action, notes string) (bool, string) {
	decision, ok := model.ParseDecision(action)
	if !ok {
		return false, MsgInvalidAction
	}
	req, err := e.approvals.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, MsgNotFound
	}
	if err != nil {
		e.logger.Error("load approval request failed", zap.Int64("approval_id", id), zap.Error(err))
		return false, err.Error()
	}
	if req.Status != model.ApprovalPending {
		return false, fmt.Sprintf("Request already %s", req.Status)
	}

	err = e.decide(ctx, mb, req, decision, notes)
	var decided *repository.DecidedError
	switch {
	case err == nil:
	case errors.As(err, &decided):
		// 并发决策已先提交
		metrics.IncrementApprovalDecision(string(decision), "conflict")
		e.logger.Warn("approval already decided", zap.Int64("approval_id", id), zap.String("status", string(decided.Status)))
		return false, fmt.Sprintf("Request already %s", decided.Status)
	case errors.Is(err, repository.ErrNotFound):
		return false, MsgNotFound
	default:
		metrics.IncrementApprovalDecision(string(decision), "error")
		e.logger.Error("approval action failed", zap.Int64("approval_id", id), zap.String("action", string(decision)), zap.Error(err))
		return false, err.Error()
	}

	metrics.IncrementApprovalDecision(string(decision), "success")
	e.logger.Info("approval decided", zap.Int64("approval_id", id), zap.String("action", string(decision)))
	return true, fmt.Sprintf("Request %s successfully.", decision)
}

// decide 在一个事务里完成状态更新、审计、outbox 和回复。
// 状态更新带 Pending 条件，落败的一方在回复前回滚。
func (e *Engine) decide(ctx context.Context, mb mailbox.Client, req *model.ApprovalRequest, decision model.ApprovalStatus, notes string) error {
	now := e.now()
	return db.WithTx(ctx, e.conn, func(tx db.Tx) error {
		repo := e.approvals.WithTx(tx)
		if err := repo.RecordDecision(ctx, req.ID, decision, notes, now); err != nil {
			return err
		}
		if err := repo.AppendAudit(ctx, &model.AuditLog{
			ApprovalID: req.ID,
			Action:     model.UserAuditAction(decision),
			Metadata:   map[string]any{"notes": notes},
			Timestamp:  now,
		}); err != nil {
			return err
		}
		if err := e.outbox.Enqueue(ctx, tx, mqcontract.AggregateApproval, req.ID, mqcontract.RoutingApprovalDecided, mqcontract.ApprovalDecidedPayload{
			ApprovalID: req.ID,
			Status:     string(decision),
			Notes:      notes,
			DecidedAt:  now,
		}); err != nil {
			return err
		}
		return e.reply(ctx, mb, req, decision, notes)
	})
}

// reply 通过稳定的 message id 定位原邮件，不依赖可能过期的 item handle
func (e *Engine) reply(ctx context.Context, mb mailbox.Client, req *model.ApprovalRequest, decision model.ApprovalStatus, notes string) error {
	if req.MessageID == "" {
		return nil
	}
	if mb == nil {
		return mailbox.ErrNotConnected
	}
	body := fmt.Sprintf("Your request has been %s.", strings.ToLower(string(decision)))
	if strings.TrimSpace(notes) != "" {
		body += "\n\nNote: " + notes
	}
	return mb.SendReply(ctx, req.MessageID, body)
}

func (e *Engine) Get(ctx context.Context, id int64) (*model.ApprovalRequest, error) {
	return e.approvals.GetByID(ctx, id)
}

func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.approvals.CountByStatus(ctx, model.ApprovalPending)
}

// Feed 返回待审批请求，高风险优先
func (e *Engine) Feed(ctx context.Context) ([]*model.ApprovalRequest, error) {
	return e.approvals.ListPending(ctx)
}

func (e *Engine) History(ctx context.Context, limit int) ([]*model.ApprovalRequest, error) {
	if limit <= 0 {
		limit = defaultHistory
	}
	return e.approvals.ListDecided(ctx, limit)
}

func (e *Engine) Audit(ctx context.Context, id int64) ([]*model.AuditLog, error) {
	return e.approvals.ListAudit(ctx, id)
}

// Delete 在同一事务中删除请求及其审计日志
func (e *Engine) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, e.conn, func(tx db.Tx) error {
		return e.approvals.WithTx(tx).Delete(ctx, id)
	})
}
