package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Sketchpad 表示一块协作画板。
type Sketchpad struct {
	ID         uint       `gorm:"primaryKey"`
	PublicID   string     `gorm:"type:varchar(64);uniqueIndex;not null"` // 对外暴露的 uuid
	CreatedBy  string     `gorm:"type:varchar(191);index;not null"`      // 用户标识 (注册用户 id 或访客 G 前缀 id)
	Snapshot   string     `gorm:"type:longtext"`                         // 最近一次渲染的 PNG data URI
	SnapshotAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`
}

// StrokeRecord 是持久化后的一条笔画操作。
// Stroke 保存原始 JSON，读取时原样还原，Deleted 以数据库列为准。
type StrokeRecord struct {
	ID             uint           `gorm:"primaryKey"`
	SketchpadID    uint           `gorm:"index:idx_stroke_lookup,priority:1;not null"`
	UserIdentifier string         `gorm:"type:varchar(191);index:idx_stroke_lookup,priority:2;not null"`
	LocalStrokeID  int            `gorm:"index:idx_stroke_lookup,priority:3;not null"`
	Kind           string         `gorm:"type:varchar(32);not null"`
	Stroke         datatypes.JSON `gorm:"not null"`
	Deleted        bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}
