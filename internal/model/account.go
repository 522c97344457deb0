package model

import (
	"fmt"
	"time"
)

// AccountProfile 远端集群账号
type AccountProfile struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConnectionName string    `gorm:"size:100;not null;uniqueIndex" json:"connection_name"`
	Scheme         string    `gorm:"size:10;not null" json:"scheme"`
	Host           string    `gorm:"size:255;not null" json:"host"`
	Port           int       `gorm:"not null" json:"port"`
	Username       string    `gorm:"size:100;not null" json:"username"`
	Password       string    `gorm:"-" json:"-"`
	SecretCipher   string    `gorm:"type:text" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

func (AccountProfile) TableName() string {
	return "hpc_accounts"
}

// Key identifies the account by its connection fields.
// Token and connection caches are keyed by it.
func (a *AccountProfile) Key() string {
	return fmt.Sprintf("%s://%s@%s:%d", a.Scheme, a.Username, a.Host, a.Port)
}

// BaseURL 远端服务根地址
func (a *AccountProfile) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}
