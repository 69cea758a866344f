// Package entity 定义领域实体
package entity

import (
	"time"
)

// Principal 访问主体（来自认证层的声明，不落库）
type Principal struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// AccessType 授权级别，按 read < write < admin 排序
type AccessType string

const (
	AccessTypeRead  AccessType = "read"
	AccessTypeWrite AccessType = "write"
	AccessTypeAdmin AccessType = "admin"
)

// accessRank 授权级别的序
var accessRank = map[AccessType]int{
	AccessTypeRead:  1,
	AccessTypeWrite: 2,
	AccessTypeAdmin: 3,
}

// Covers 判断 a 是否覆盖 required 级别
func (a AccessType) Covers(required AccessType) bool {
	return accessRank[a] >= accessRank[required]
}

// ValidAccessType 检查授权级别是否合法
func ValidAccessType(t AccessType) bool {
	_, ok := accessRank[t]
	return ok
}

// Repository 仓库记录：块的归属单元，访问控制的决策依据
type Repository struct {
	ID             string      `json:"id" gorm:"type:varchar(64);primaryKey"`
	OwnerPrincipal string      `json:"owner_principal" gorm:"type:varchar(64);index;not null"`
	OrganizationID *string     `json:"organization_id,omitempty" gorm:"type:varchar(64);index"`
	Visibility     AccessLevel `json:"visibility" gorm:"type:varchar(16);default:private"`
	MaxVectors     int         `json:"max_vectors" gorm:"default:0"` // 0 表示使用全局默认
	CreatedAt      time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Repository) TableName() string {
	return "repositories"
}

// AccessGrant 显式授权记录：在所有权/公开/组织默认之外扩展访问
type AccessGrant struct {
	ID                  string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RepositoryID        string     `json:"repository_id" gorm:"type:varchar(64);index;not null"`
	GranteePrincipal    *string    `json:"grantee_principal,omitempty" gorm:"type:varchar(64);index"`
	GranteeOrganization *string    `json:"grantee_organization,omitempty" gorm:"type:varchar(64);index"`
	AccessType          AccessType `json:"access_type" gorm:"type:varchar(16);not null"`
	GrantedBy           string     `json:"granted_by" gorm:"type:varchar(64);not null"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt           time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (AccessGrant) TableName() string {
	return "access_grants"
}

// Active 判断授权在给定时刻是否有效
func (g *AccessGrant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
