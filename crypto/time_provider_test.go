package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedTimeProvider struct {
	now time.Time
}

func (f fixedTimeProvider) Now() time.Time                  { return f.now }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.now.Sub(t) }

func TestSetDefaultTimeProviderOverridesNow(t *testing.T) {
	fixed := fixedTimeProvider{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	SetDefaultTimeProvider(fixed)
	defer SetDefaultTimeProvider(nil)

	assert.Equal(t, fixed.now, GetDefaultTimeProvider().Now())
}

func TestSetDefaultTimeProviderNilResetsDefault(t *testing.T) {
	SetDefaultTimeProvider(fixedTimeProvider{now: time.Unix(0, 0)})
	SetDefaultTimeProvider(nil)

	_, ok := GetDefaultTimeProvider().(DefaultTimeProvider)
	assert.True(t, ok)
}
