package model

import "time"

type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	MailboxToken string     `json:"-"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Setting keys.
const (
	SettingModel        = "ollama_model"
	SettingProjects     = "classification_projects"
	SettingTags         = "classification_tags"
	SettingDomains      = "classification_domains"
	SettingLastSyncTime = "last_sync_time"
)
