package model

import "time"

type ProjectRole struct {
	Project string `json:"project"`
	Role    string `json:"role"`
}

// Person is a correspondent keyed by email address.
type Person struct {
	ID               int64         `json:"id"`
	Email            string        `json:"email"`
	Name             string        `json:"name"`
	JobTitle         string        `json:"job_title"`
	Department       string        `json:"department"`
	OfficeLocation   string        `json:"office_location"`
	ManagerName      string        `json:"manager_name"`
	ManualRole       string        `json:"manual_role"`
	Hidden           bool          `json:"is_hidden"`
	Projects         []ProjectRole `json:"projects"`
	Notes            string        `json:"notes"`
	InteractionCount int           `json:"interaction_count"`
	LastInteraction  *time.Time    `json:"last_interaction,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}
