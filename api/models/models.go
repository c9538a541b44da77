package models

import "time"

// Recommendation is the persisted record of one submitted configuration:
// the four action parameters and the perception score they produced.
type Recommendation struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Action1    float64   `gorm:"column:action1;not null"`
	Action2    float64   `gorm:"column:action2;not null"`
	Action3    float64   `gorm:"column:action3;not null"`
	Action4    float64   `gorm:"column:action4;not null"`
	Perception float64   `gorm:"column:perception;not null"`
	UserID     *string   `gorm:"column:user_id;size:36"`
	Timestamp  time.Time `gorm:"column:timestamp;not null"`
}

// TableName keeps the table name stable regardless of GORM's pluralization.
func (Recommendation) TableName() string {
	return "recommendations"
}
