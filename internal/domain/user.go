package domain

import (
	"strconv"
	"strings"
	"time"
)

// GuestPrefix 是访客用户标识的前缀，注册用户的标识是其数字 id。
const GuestPrefix = "G"

// User 表示注册用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`
	Username  string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`
	Password  string    `gorm:"type:text;not null"` // bcrypt 哈希
	Email     string    `gorm:"type:varchar(191);uniqueIndex:idx_email"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Identifier 返回写入笔画日志的用户标识。
func (u *User) Identifier() string {
	return strconv.FormatUint(uint64(u.ID), 10)
}

// IsGuestIdentifier 报告标识是否属于访客。
func IsGuestIdentifier(id string) bool {
	return strings.HasPrefix(id, GuestPrefix)
}
