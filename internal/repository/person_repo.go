package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

type PersonRepository struct {
	q db.Querier
}

func NewPersonRepository(q db.Querier) *PersonRepository {
	return &PersonRepository{q: q}
}

const personColumns = `id, email, name, job_title, department, office_location, manager_name,
	manual_role, is_hidden, projects, notes, interaction_count, last_interaction, created_at`

func (r *PersonRepository) GetByEmail(ctx context.Context, email string) (*model.Person, error) {
	return scanPerson(r.q.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE email = $1`, strings.ToLower(email)))
}

func (r *PersonRepository) GetByID(ctx context.Context, id int64) (*model.Person, error) {
	return scanPerson(r.q.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, id))
}

// Create 插入新联系人，邮箱统一小写；已存在时返回 ErrDuplicate
func (r *PersonRepository) Create(ctx context.Context, p *model.Person) error {
	p.Email = strings.ToLower(p.Email)
	err := r.q.QueryRow(ctx, `
		INSERT INTO people (email, name, job_title, department, office_location, manager_name,
			manual_role, is_hidden, projects, notes, interaction_count, last_interaction, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, p.Email, p.Name, p.JobTitle, p.Department, p.OfficeLocation, p.ManagerName,
		p.ManualRole, p.Hidden, encodeJSON(nonNilProjects(p.Projects)), p.Notes,
		p.InteractionCount, p.LastInteraction, p.CreatedAt,
	).Scan(&p.ID)
	return translate(err)
}

// IncrementInteraction 原子地累加交互次数，返回命中的行数
func (r *PersonRepository) IncrementInteraction(ctx context.Context, email string, at time.Time) (int64, error) {
	n, err := r.q.Exec(ctx, `
		UPDATE people SET interaction_count = interaction_count + 1, last_interaction = $2
		WHERE email = $1
	`, strings.ToLower(email), at)
	return n, translate(err)
}

// Update 写回可编辑字段
func (r *PersonRepository) Update(ctx context.Context, p *model.Person) error {
	n, err := r.q.Exec(ctx, `
		UPDATE people SET name = $2, job_title = $3, department = $4, office_location = $5,
			manager_name = $6, manual_role = $7, is_hidden = $8, projects = $9, notes = $10
		WHERE id = $1
	`, p.ID, p.Name, p.JobTitle, p.Department, p.OfficeLocation,
		p.ManagerName, p.ManualRole, p.Hidden, encodeJSON(nonNilProjects(p.Projects)), p.Notes)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回未隐藏的联系人，按交互次数倒序
func (r *PersonRepository) List(ctx context.Context, search, role string) ([]*model.Person, error) {
	where := []string{"is_hidden = $1"}
	args := []any{false}
	if search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(email) LIKE $%d OR LOWER(department) LIKE $%d)", n, n, n))
	}
	if role != "" {
		args = append(args, role)
		where = append(where, fmt.Sprintf("manual_role = $%d", len(args)))
	}
	query := `SELECT ` + personColumns + ` FROM people WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY interaction_count DESC, id ASC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	people := []*model.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func scanPerson(row db.Row) (*model.Person, error) {
	var (
		p        model.Person
		projects string
	)
	err := row.Scan(
		&p.ID, &p.Email, &p.Name, &p.JobTitle, &p.Department, &p.OfficeLocation, &p.ManagerName,
		&p.ManualRole, &p.Hidden, &projects, &p.Notes, &p.InteractionCount, &p.LastInteraction, &p.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	decodeJSON(projects, &p.Projects)
	return &p, nil
}

func nonNilProjects(p []model.ProjectRole) []model.ProjectRole {
	if p == nil {
		return []model.ProjectRole{}
	}
	return p
}
