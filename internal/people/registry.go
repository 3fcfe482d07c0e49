// Package people maintains the professional circle: one Person per
// correspondent address, enriched from the directory on first sighting.
package people

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
)

const (
	unknownProject  = "Unknown"
	contributorRole = "Contributor"
	profileTasks    = 5
)

var ErrContactExists = errors.New("contact exists")

type Registry struct {
	people *repository.PersonRepository
	tasks  *repository.TaskRepository
	now    func() time.Time
	logger *zap.Logger
}

func NewRegistry(people *repository.PersonRepository, tasks *repository.TaskRepository, logger *zap.Logger) *Registry {
	return &Registry{
		people: people,
		tasks:  tasks,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Observe counts one interaction for every participant of msg except the
// mailbox owner. A non-empty project other than Unknown is linked to each
// participant. Failures are logged and never reach the caller.
func (r *Registry) Observe(ctx context.Context, mb mailbox.Client, msg *mailbox.Message, project string) {
	owner := ""
	if mb != nil {
		owner = mb.Owner()
	}
	seen := map[string]bool{}
	contacts := append([]mailbox.Address{msg.From}, msg.To...)
	contacts = append(contacts, msg.Cc...)

	for _, a := range contacts {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || email == owner || seen[email] {
			continue
		}
		seen[email] = true
		if err := r.observe(ctx, mb, email, a.Name, project); err != nil {
			r.logger.Warn("professional circle update failed", zap.String("email", email), zap.Error(err))
		}
	}
}

func (r *Registry) observe(ctx context.Context, mb mailbox.Client, email, name, project string) error {
	now := r.now()
	n, err := r.people.IncrementInteraction(ctx, email, now)
	if err != nil {
		return err
	}
	if n == 0 {
		err = r.create(ctx, mb, email, name, now)
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发同步先插入了同一联系人
			_, err = r.people.IncrementInteraction(ctx, email, now)
		}
		if err != nil {
			return err
		}
	}

	if project == "" || project == unknownProject {
		if n > 0 && name != "" {
			return r.backfillName(ctx, email, name)
		}
		return nil
	}
	p, err := r.people.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	changed := p.Name == "" && name != ""
	if changed {
		p.Name = name
	}
	if addProject(p, project) || changed {
		return r.people.Update(ctx, p)
	}
	return nil
}

func (r *Registry) create(ctx context.Context, mb mailbox.Client, email, name string, now time.Time) error {
	p := &model.Person{
		Email:            email,
		Name:             name,
		InteractionCount: 1,
		LastInteraction:  &now,
		CreatedAt:        now,
	}
	if mb != nil {
		if entry, ok := mb.ResolveDirectory(ctx, email); ok {
			p.JobTitle = entry.JobTitle
			p.Department = entry.Department
			p.OfficeLocation = entry.OfficeLocation
			p.ManagerName = entry.ManagerName
			if entry.Name != "" {
				p.Name = entry.Name
			}
		}
	}
	r.logger.Info("discovered new contact", zap.String("email", email))
	return r.people.Create(ctx, p)
}

func (r *Registry) backfillName(ctx context.Context, email, name string) error {
	p, err := r.people.GetByEmail(ctx, email)
	if err != nil || p.Name != "" {
		return err
	}
	p.Name = name
	return r.people.Update(ctx, p)
}

func addProject(p *model.Person, project string) bool {
	for _, pr := range p.Projects {
		if pr.Project == project {
			return false
		}
	}
	p.Projects = append(p.Projects, model.ProjectRole{Project: project, Role: contributorRole})
	return true
}

// Scan observes every inbox message of the window without triaging it.
func (r *Registry) Scan(ctx context.Context, mb mailbox.Client, w mailbox.Window, max int) (int, error) {
	msgs, err := mb.FetchInbox(ctx, w, max)
	if err != nil {
		return 0, err
	}
	for i := range msgs {
		r.Observe(ctx, mb, &msgs[i], "")
	}
	return len(msgs), nil
}

func (r *Registry) List(ctx context.Context, search, role string) ([]*model.Person, error) {
	return r.people.List(ctx, search, role)
}

// Add 手动添加联系人
func (r *Registry) Add(ctx context.Context, p *model.Person) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.CreatedAt = r.now()
	err := r.people.Create(ctx, p)
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrContactExists
	}
	return err
}

func (r *Registry) Get(ctx context.Context, id int64) (*model.Person, error) {
	return r.people.GetByID(ctx, id)
}

func (r *Registry) Update(ctx context.Context, p *model.Person) error {
	return r.people.Update(ctx, p)
}

// Hide 联系人不做物理删除
func (r *Registry) Hide(ctx context.Context, id int64) error {
	p, err := r.people.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Hidden = true
	return r.people.Update(ctx, p)
}

type Profile struct {
	Person      *model.Person `json:"person"`
	ActiveTasks []*model.Task `json:"active_tasks"`
	ClosedTasks []*model.Task `json:"recent_closed_tasks"`
}

// Profile returns the contact with its latest active and closed tasks.
func (r *Registry) Profile(ctx context.Context, id int64) (*Profile, error) {
	p, err := r.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := r.tasks.List(ctx, repository.TaskFilter{
		Statuses:    []model.TaskStatus{model.TaskNew, model.TaskInProgress, model.TaskPaused},
		SenderEmail: p.Email,
		Limit:       profileTasks,
	})
	if err != nil {
		return nil, err
	}
	closed, err := r.tasks.List(ctx, repository.TaskFilter{
		Statuses:    []model.TaskStatus{model.TaskClosed, model.TaskArchived},
		SenderEmail: p.Email,
		Limit:       profileTasks,
	})
	if err != nil {
		return nil, err
	}
	return &Profile{Person: p, ActiveTasks: active, ClosedTasks: closed}, nil
}
