package model

import "time"

// SettingPassThreshold is the app_settings key holding the pass threshold percentage.
const SettingPassThreshold = "pass_threshold_percent"

// AppSetting represents a key-value pair for global application configuration.
type AppSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
