// Package report 汇总一段时间内的任务完成情况，并计算 SLA
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/llm"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
)

const (
	SLAOnTime  = "On Time"
	SLAOverdue = "Overdue"
	SLAUnknown = "Unknown"

	FallbackContent = "Error: AI could not generate the report."

	defaultSLADays = 4
)

var ErrInvalidRange = errors.New("invalid date range")

type ModelSource interface {
	Model(ctx context.Context) string
}

// Achievement is a closed task with its SLA verdict.
type Achievement struct {
	*model.Task
	SLAStatus string `json:"sla_status"`
}

type Stats struct {
	Received      int     `json:"received"`
	Completed     int     `json:"completed"`
	OnTime        int     `json:"on_time"`
	Overdue       int     `json:"overdue"`
	SLACompliance float64 `json:"sla_compliance"`
}

type Weekly struct {
	StartDate    string        `json:"start_date"`
	EndDate      string        `json:"end_date"`
	Achievements []Achievement `json:"achievements"`
	Planned      []*model.Task `json:"planned"`
	Stats        Stats         `json:"stats"`
}

type Consolidated struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Content   string `json:"content"`
	Generated bool   `json:"generated"`
}

type Service struct {
	tasks   *repository.TaskRepository
	gen     llm.Generator
	models  ModelSource
	slaDays int
	loc     *time.Location
	logger  *zap.Logger
}

func NewService(conn db.Conn, gen llm.Generator, models ModelSource, slaDays int, loc *time.Location, logger *zap.Logger) *Service {
	if slaDays <= 0 {
		slaDays = defaultSLADays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		tasks:   repository.NewTaskRepository(conn),
		gen:     gen,
		models:  models,
		slaDays: slaDays,
		loc:     loc,
		logger:  logger,
	}
}

// Weekly collects achievements closed within [start, end] (calendar days,
// inclusive), the open backlog and the SLA statistics.
func (s *Service) Weekly(ctx context.Context, startDate, endDate string) (*Weekly, error) {
	from, to, err := s.bounds(startDate, endDate)
	if err != nil {
		return nil, err
	}

	closed, err := s.tasks.ClosedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load closed tasks: %w", err)
	}
	planned, err := s.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskNew, model.TaskInProgress, model.TaskPaused},
	})
	if err != nil {
		return nil, fmt.Errorf("load planned tasks: %w", err)
	}
	received, err := s.tasks.CountReceivedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("count received tasks: %w", err)
	}

	w := &Weekly{
		StartDate:    startDate,
		EndDate:      endDate,
		Achievements: make([]Achievement, 0, len(closed)),
		Planned:      planned,
		Stats:        Stats{Received: received, Completed: len(closed)},
	}
	for _, t := range closed {
		status := SLAStatus(t, s.slaDays)
		switch status {
		case SLAOnTime:
			w.Stats.OnTime++
		case SLAOverdue:
			w.Stats.Overdue++
		}
		w.Achievements = append(w.Achievements, Achievement{Task: t, SLAStatus: status})
	}
	if judged := w.Stats.OnTime + w.Stats.Overdue; judged > 0 {
		w.Stats.SLACompliance = math.Round(float64(w.Stats.OnTime)/float64(judged)*1000) / 10
	}
	return w, nil
}

// Consolidated sends the weekly data to the model for a narrative report.
func (s *Service) Consolidated(ctx context.Context, startDate, endDate string) (*Consolidated, error) {
	w, err := s.Weekly(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, err
	}

	out := &Consolidated{StartDate: startDate, EndDate: endDate}
	text, ok := s.gen.Generate(ctx, llm.ReportRequest(s.models.Model(ctx), string(data)))
	if !ok || strings.TrimSpace(text) == "" {
		s.logger.Warn("consolidated report generation failed",
			zap.String("start", startDate), zap.String("end", endDate))
		out.Content = FallbackContent
		return out, nil
	}
	out.Content = text
	out.Generated = true
	return out, nil
}

// SLAStatus compares the response time of a closed task with the SLA.
func SLAStatus(t *model.Task, slaDays int) string {
	if t.ClosedAt == nil || t.ReceivedAt.IsZero() {
		return SLAUnknown
	}
	if t.ClosedAt.Sub(t.ReceivedAt) <= time.Duration(slaDays)*24*time.Hour {
		return SLAOnTime
	}
	return SLAOverdue
}

func (s *Service) bounds(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(startDate), s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date: %v", ErrInvalidRange, err)
	}
	end, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(endDate), s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date: %v", ErrInvalidRange, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	return start.UTC(), end.AddDate(0, 0, 1).UTC(), nil
}
