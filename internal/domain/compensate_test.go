package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpillover(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{
			name:  "two channels",
			value: "2,FL1-A,FL2-A,1,0.1,0.2,1",
		},
		{
			name:  "whitespace tolerated",
			value: " 2, FL1-A ,FL2-A, 1, 0.1, 0.2, 1 ",
		},
		{
			name:    "bad count",
			value:   "x,FL1-A,1",
			wantErr: true,
		},
		{
			name:    "field count mismatch",
			value:   "2,FL1-A,FL2-A,1,0.1,0.2",
			wantErr: true,
		},
		{
			name:    "bad value",
			value:   "2,FL1-A,FL2-A,1,0.1,oops,1",
			wantErr: true,
		},
		{
			name:    "empty name",
			value:   "2,FL1-A,,1,0.1,0.2,1",
			wantErr: true,
		},
		{
			name:    "empty",
			value:   "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSpillover(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"FL1-A", "FL2-A"}, s.Names)
			assert.Equal(t, 0.1, s.Matrix.At(0, 1))
			assert.Equal(t, 0.2, s.Matrix.At(1, 0))
		})
	}
}

func TestSpilloverRoundTrip(t *testing.T) {
	s, err := ParseSpillover("2,FL1-A,FL2-A,1,0.1,0.2,1")
	require.NoError(t, err)

	again, err := ParseSpillover(s.String())
	require.NoError(t, err)
	assert.Equal(t, s.Names, again.Names)
	assert.InDelta(t, 0.1, again.Matrix.At(0, 1), 1e-12)
}

func TestCompensateRecoversTrueSignal(t *testing.T) {
	// With spillover S, the instrument records raw = true · S. Applying
	// raw · S⁻¹ must recover the true signal.
	s, err := ParseSpillover("2,FL1-A,FL2-A,1,0.1,0.2,1")
	require.NoError(t, err)

	// true = (100, 50) → raw = (100·1 + 50·0.2, 100·0.1 + 50·1) = (110, 60)
	f, err := NewFrame(testChannels(), []float64{
		500, 400, 110, 60,
		800, 300, 0, 0,
	})
	require.NoError(t, err)

	// Frame channels are FSC-A, SSC-A, FL1-A, FL2-A; matrix covers the FLs.
	out, err := Compensate(f, s)
	require.NoError(t, err)

	require.Equal(t, f.Events(), out.Events())
	assert.InDelta(t, 100, out.At(0, 2), 1e-9)
	assert.InDelta(t, 50, out.At(0, 3), 1e-9)
	// Scatter channels pass through untouched.
	assert.Equal(t, 500.0, out.At(0, 0))
	assert.Equal(t, 400.0, out.At(0, 1))
	// Zero stays zero.
	assert.InDelta(t, 0, out.At(1, 2), 1e-9)
	assert.InDelta(t, 0, out.At(1, 3), 1e-9)
	// The input frame is not mutated.
	assert.Equal(t, 110.0, f.At(0, 2))
}

func TestCompensateZeroEvents(t *testing.T) {
	// A file with $TOT=0 parses into an empty frame; compensation must
	// return an empty clone instead of panicking on a zero-row matrix.
	s, err := ParseSpillover("2,FL1-A,FL2-A,1,0.1,0.2,1")
	require.NoError(t, err)

	f, err := NewFrame(testChannels(), nil)
	require.NoError(t, err)

	out, err := Compensate(f, s)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Events())
	assert.Equal(t, f.ChannelNames(), out.ChannelNames())
}

func TestCompensateErrors(t *testing.T) {
	f, err := NewFrame(testChannels(), []float64{1, 2, 3, 4})
	require.NoError(t, err)

	t.Run("unknown channel", func(t *testing.T) {
		s, err := ParseSpillover("2,FL1-A,FL9-A,1,0,0,1")
		require.NoError(t, err)
		_, err = Compensate(f, s)
		assert.ErrorContains(t, err, "FL9-A")
	})

	t.Run("singular matrix", func(t *testing.T) {
		s, err := ParseSpillover("2,FL1-A,FL2-A,1,1,1,1")
		require.NoError(t, err)
		_, err = Compensate(f, s)
		assert.ErrorContains(t, err, "singular")
	})

	t.Run("nil spillover passes through", func(t *testing.T) {
		out, err := Compensate(f, nil)
		require.NoError(t, err)
		assert.Equal(t, f.At(0, 2), out.At(0, 2))
	})
}
