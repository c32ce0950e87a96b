package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/model"
)

// DefaultPassThreshold applies when the configured threshold cannot be read.
const DefaultPassThreshold = 75

// ThresholdProvider reads the pass threshold from application settings.
type ThresholdProvider struct {
	settings SettingReader
	fallback int
	log      zerolog.Logger
}

// NewThresholdProvider creates a ThresholdProvider. An invalid fallback is
// replaced by DefaultPassThreshold.
func NewThresholdProvider(settings SettingReader, fallback int, log zerolog.Logger) *ThresholdProvider {
	if fallback < 0 || fallback > 100 {
		fallback = DefaultPassThreshold
	}
	return &ThresholdProvider{
		settings: settings,
		fallback: fallback,
		log:      log.With().Str("component", "threshold").Logger(),
	}
}

// PassThreshold returns the configured percentage, or the fallback on any failure.
func (p *ThresholdProvider) PassThreshold(ctx context.Context) int {
	if p.settings == nil {
		return p.fallback
	}
	setting, err := p.settings.GetByKey(ctx, model.SettingPassThreshold)
	if err != nil {
		p.log.Warn().Err(err).Int("fallback", p.fallback).Msg("Pass threshold lookup failed")
		return p.fallback
	}
	v, err := ParseThreshold(setting.Value)
	if err != nil {
		p.log.Warn().Str("value", setting.Value).Int("fallback", p.fallback).Msg("Pass threshold invalid")
		return p.fallback
	}
	return v
}

// ParseThreshold validates a threshold setting value.
func ParseThreshold(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 || v > 100 {
		return 0, ErrInvalidThreshold
	}
	return v, nil
}
