package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want int64
	}{
		{"0", 0},
		{"1700000000123", 1_700_000_000_123},
		{" 42 ", 42},
		{"-1000", -1000},
		{"1970-01-01T00:01:00Z", 60_000},
		{"2023-11-14T22:13:20.5Z", 1_700_000_000_500},
		{"1970-01-01T01:00:00+01:00", 0},
	}

	for _, tt := range tests {
		got, err := segment.ParseTime(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseTime_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "  ", "yesterday", "2023-13-01T00:00:00Z", "12.5"} {
		_, err := segment.ParseTime(raw)
		require.ErrorIs(t, err, segment.ErrMalformedRecord, raw)
	}
}
