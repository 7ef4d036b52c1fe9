package model

import "time"

// UserRole CASA 用户角色
type UserRole string

const (
	RoleVolunteer  UserRole = "volunteer"
	RoleSupervisor UserRole = "supervisor"
	RoleCasaAdmin  UserRole = "casa_admin"
)

// User 志愿者 / 督导 / 管理员；跟进只用到 ID 比较和通知寻址
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CasaOrgID    string    `json:"casa_org_id" gorm:"type:varchar(36);index:idx_user_org_role;not null"`
	Role         UserRole  `json:"role" gorm:"type:varchar(16);index:idx_user_org_role;not null"`
	Name         string    `json:"name" gorm:"type:varchar(128);not null"`
	Email        string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	SupervisorID *string   `json:"supervisor_id,omitempty" gorm:"type:varchar(36);index"`
	Active       bool      `json:"active" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
