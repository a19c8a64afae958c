package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withCache builds a service whose cache is already populated, so reads never
// reach a collection.
func withCache(values map[string]string) *Service {
	return &Service{cache: values}
}

func TestThreshold(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		values map[string]string
		want   int
	}{
		{name: "configured", values: map[string]string{KeyLowAttendanceThreshold: "80"}, want: 80},
		{name: "absent falls back to default", values: map[string]string{}, want: DefaultThreshold},
		{name: "unparsable falls back to default", values: map[string]string{KeyLowAttendanceThreshold: "eighty"}, want: DefaultThreshold},
		{name: "zero is respected", values: map[string]string{KeyLowAttendanceThreshold: "0"}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := withCache(tc.values).Threshold(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	s := withCache(map[string]string{"k": "v"})

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateClearsCache(t *testing.T) {
	s := withCache(map[string]string{"k": "v"})
	s.Invalidate()
	assert.Nil(t, s.cache)
}
