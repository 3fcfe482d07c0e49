package mq

// 作业类 routing key，由 API 投递、worker 消费
const (
	RoutingSyncRequested    = "sync.requested"
	RoutingSummaryRequested = "summary.requested"
)

// 领域事件，经 outbox 发布到 events exchange
const (
	RoutingTaskCreated       = "task.created"
	RoutingTaskAutoCompleted = "task.auto_completed"
	RoutingApprovalCreated   = "approval.created"
	RoutingApprovalDecided   = "approval.decided"
	RoutingSyncCompleted     = "sync.completed"
)

// outbox aggregate_type
const (
	AggregateTask     = "task"
	AggregateApproval = "approval"
	AggregateSync     = "sync"
)
