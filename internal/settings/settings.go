// Package settings 提供带默认值的运行时配置读取
package settings

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/llm"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
)

var (
	DefaultProjects = []string{"CTS", "CRM", "ERP", "Mobile App", "HR Portal", "DubaiNow", "GIS", "Procurement", "Finance", "Internal", "Personal", "Unknown"}
	DefaultTags     = []string{"Bug", "Feature Request", "Information Request", "Service Request", "Approval", "Access Request", "Meeting", "Report", "Complaint", "Security", "Onboarding", "Budget", "Legal", "Vendor-Related", "Training", "Update", "Other"}
	DefaultDomains  = []string{"IT Support", "Finance", "Procurement", "Legal", "HR", "Facilities", "Security", "Vendor", "Unknown"}
)

// Service reads settings through to the store, falling back to defaults on a
// miss or an unreadable value.
type Service struct {
	repo         *repository.SettingsRepository
	defaultModel string
	now          func() time.Time
	logger       *zap.Logger
}

func NewService(repo *repository.SettingsRepository, defaultModel string, logger *zap.Logger) *Service {
	return &Service{
		repo:         repo,
		defaultModel: defaultModel,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

func (s *Service) Get(ctx context.Context, key, fallback string) string {
	v, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read setting failed, using default", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if !ok || v == "" {
		return fallback
	}
	return v
}

// List 读取 JSON 数组设置，非数组或为空时返回默认值
func (s *Service) List(ctx context.Context, key string, fallback []string) []string {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return fallback
	}
	return out
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, key, value, s.now())
}

func (s *Service) SetList(ctx context.Context, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(raw))
}

func (s *Service) Model(ctx context.Context) string {
	return s.Get(ctx, model.SettingModel, s.defaultModel)
}

func (s *Service) Taxonomy(ctx context.Context) llm.Taxonomy {
	return llm.Taxonomy{
		Projects: s.List(ctx, model.SettingProjects, DefaultProjects),
		Tags:     s.List(ctx, model.SettingTags, DefaultTags),
		Domains:  s.List(ctx, model.SettingDomains, DefaultDomains),
	}
}

// LastSync 返回上次同步水位线
func (s *Service) LastSync(ctx context.Context) (time.Time, bool) {
	raw := s.Get(ctx, model.SettingLastSyncTime, "")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Service) SaveLastSync(ctx context.Context, at time.Time) error {
	return s.Set(ctx, model.SettingLastSyncTime, at.UTC().Format(time.RFC3339))
}

// Snapshot is the settings view exposed over the API.
type Snapshot struct {
	Model    string   `json:"ollama_model"`
	Projects []string `json:"projects"`
	Tags     []string `json:"tags"`
	Domains  []string `json:"domains"`
	LastSync string   `json:"last_sync_time,omitempty"`
}

// Snapshot 首次读取时写入默认值
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := s.now()
	for key, def := range map[string][]string{
		model.SettingProjects: DefaultProjects,
		model.SettingTags:     DefaultTags,
		model.SettingDomains:  DefaultDomains,
	} {
		raw, _ := json.Marshal(def)
		if err := s.repo.SetDefault(ctx, key, string(raw), now); err != nil {
			return nil, err
		}
	}
	if err := s.repo.SetDefault(ctx, model.SettingModel, s.defaultModel, now); err != nil {
		return nil, err
	}
	tax := s.Taxonomy(ctx)
	return &Snapshot{
		Model:    s.Model(ctx),
		Projects: tax.Projects,
		Tags:     tax.Tags,
		Domains:  tax.Domains,
		LastSync: s.Get(ctx, model.SettingLastSyncTime, ""),
	}, nil
}

// Update is a partial settings change; nil fields are left alone.
type Update struct {
	Model    *string  `json:"ollama_model"`
	Projects []string `json:"projects"`
	Tags     []string `json:"tags"`
	Domains  []string `json:"domains"`
}

func (s *Service) Apply(ctx context.Context, u Update) error {
	if u.Model != nil && *u.Model != "" {
		if err := s.Set(ctx, model.SettingModel, *u.Model); err != nil {
			return err
		}
	}
	for key, values := range map[string][]string{
		model.SettingProjects: u.Projects,
		model.SettingTags:     u.Tags,
		model.SettingDomains:  u.Domains,
	} {
		if values == nil {
			continue
		}
		if err := s.SetList(ctx, key, values); err != nil {
			return err
		}
	}
	return nil
}
