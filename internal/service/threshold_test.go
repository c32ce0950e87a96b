package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdProvider(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		settings SettingReader
		want     int
	}{
		"configured":   {thresholdSettings("80"), 80},
		"trimmed":      {thresholdSettings(" 60 "), 60},
		"missing":      {&fakeSettings{values: map[string]string{}}, 75},
		"unparsable":   {thresholdSettings("eighty"), 75},
		"out of range": {thresholdSettings("120"), 75},
		"lookup error": {&fakeSettings{err: errStorageDown}, 75},
		"no reader":    {nil, 75},
	}
	for name, c := range cases {
		p := NewThresholdProvider(c.settings, DefaultPassThreshold, testLog)
		assert.Equal(t, c.want, p.PassThreshold(ctx), name)
	}
}

func TestThresholdProvider_InvalidFallbackUsesDefault(t *testing.T) {
	p := NewThresholdProvider(nil, 150, testLog)
	assert.Equal(t, DefaultPassThreshold, p.PassThreshold(context.Background()))
}

func TestParseThreshold(t *testing.T) {
	v, err := ParseThreshold("0")
	assert.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = ParseThreshold("-1")
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}
