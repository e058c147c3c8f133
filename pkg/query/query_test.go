package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("count")
	require.NoError(t, err)
	assert.Equal(t, ModeCount, m)

	m, err = ParseMode("values")
	require.NoError(t, err)
	assert.Equal(t, ModeValues, m)

	_, err = ParseMode("mean")
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestDescriptor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		desc    Descriptor
		wantErr error
	}{
		{name: "count_ok", desc: Descriptor{ID: "a", Mode: ModeCount}},
		{name: "values_ok", desc: Descriptor{ID: "a", Mode: ModeValues, ValueField: "latency"}},
		{name: "values_missing_field", desc: Descriptor{ID: "a", Mode: ModeValues}, wantErr: ErrMissingFieldConfiguration},
		{name: "empty_id", desc: Descriptor{Mode: ModeCount}, wantErr: ErrEmptyID},
		{name: "bad_mode", desc: Descriptor{ID: "a", Mode: "sum"}, wantErr: ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.desc.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateAll(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ValidateAll(nil), ErrNoQueries)

	dup := []Descriptor{{ID: "a", Mode: ModeCount}, {ID: "a", Mode: ModeCount}}
	require.ErrorIs(t, ValidateAll(dup), ErrDuplicateID)

	ok := []Descriptor{{ID: "a", Mode: ModeCount}, {ID: "b", Mode: ModeCount}}
	require.NoError(t, ValidateAll(ok))
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "errors", Descriptor{ID: "q1", Alias: "errors"}.Label())
	assert.Equal(t, "q1", Descriptor{ID: "q1"}.Label())
}

func TestSameSet(t *testing.T) {
	t.Parallel()

	a := []Descriptor{{ID: "x"}, {ID: "y"}}
	b := []Descriptor{{ID: "y"}, {ID: "x"}}
	c := []Descriptor{{ID: "x"}, {ID: "z"}}

	assert.True(t, SameSet(a, b))
	assert.False(t, SameSet(a, c))
	assert.False(t, SameSet(a, a[:1]))
	assert.Equal(t, []string{"x", "y"}, IDs(a))
}
