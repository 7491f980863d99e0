package dto

import "time"

// SettingsUpdateRequest changes one or more engine settings. Omitted fields keep their value.
type SettingsUpdateRequest struct {
	ScorePrecision           *float64 `json:"score_precision" validate:"omitempty,gt=0"`
	PassThreshold            *float64 `json:"pass_threshold" validate:"omitempty,gte=0"`
	MaxScore                 *float64 `json:"max_score" validate:"omitempty,gt=0"`
	RegradeSLADays           *int     `json:"regrade_sla_days" validate:"omitempty,gte=0,lte=365"`
	DefaultReviewWindowHours *int     `json:"default_review_window_hours" validate:"omitempty,gt=0,lte=2160"`
}

// SettingEntry is one stored key with its audit fields.
type SettingEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedBy *uint     `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsResponse returns the effective settings snapshot.
type SettingsResponse struct {
	ScorePrecision           float64        `json:"score_precision"`
	PassThreshold            float64        `json:"pass_threshold"`
	MaxScore                 float64        `json:"max_score"`
	RegradeSLADays           int            `json:"regrade_sla_days"`
	DefaultReviewWindowHours float64        `json:"default_review_window_hours"`
	Entries                  []SettingEntry `json:"entries"`
}
