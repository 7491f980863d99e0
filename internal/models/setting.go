package models

import "time"

// Setting keys understood by the settings service.
const (
	SettingScorePrecision      = "grading.precision"
	SettingPassThreshold       = "grading.pass_threshold"
	SettingMaxScore            = "grading.max_score"
	SettingRegradeSLADays      = "regrade.sla_days"
	SettingDefaultReviewWindow = "review.default_window"
)

// Setting is a process-wide key/value configuration entry.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	UpdatedBy *uint     `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
