package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransform(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    string
		wantErr bool
	}{
		{"linear", "linear", "linear", false},
		{"empty means linear", "", "linear", false},
		{"arcsinh default", "arcsinh", "arcsinh:150", false},
		{"arcsinh cofactor", "arcsinh:5", "arcsinh:5", false},
		{"logicle default", "logicle", "logicle:T=262144,W=0.5,M=4.5,A=0", false},
		{"logicle custom", "logicle:T=1024,W=1,M=4,A=0", "logicle:T=1024,W=1,M=4,A=0", false},
		{"unknown kind", "biex", "", true},
		{"bad cofactor", "arcsinh:abc", "", true},
		{"bad logicle pair", "logicle:T", "", true},
		{"bad logicle key", "logicle:Q=1", "", true},
		{"logicle W out of range", "logicle:W=9", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := ParseTransform(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Name())
		})
	}
}

func TestArcsinhTransform(t *testing.T) {
	tr := ArcsinhTransform{Cofactor: 150}
	assert.Equal(t, 0.0, tr.Apply(0))
	assert.InDelta(t, math.Asinh(1), tr.Apply(150), 1e-12)
	// Odd function: negative inputs stay on scale.
	assert.InDelta(t, -tr.Apply(300), tr.Apply(-300), 1e-12)
}

func TestLogicleAnchors(t *testing.T) {
	tr, err := NewLogicle(0, 0.5, 0, 0)
	require.NoError(t, err)

	// Zero intensity lands at x1 = (A+W)/(M+A) and full scale at 1.
	assert.InDelta(t, 0.5/4.5, tr.Apply(0), 1e-9)
	assert.InDelta(t, 1.0, tr.Apply(LogicleDefaultT), 1e-9)
	assert.InDelta(t, 0.0, tr.Inverse(0.5/4.5), 1e-6)
	assert.InDelta(t, LogicleDefaultT, tr.Inverse(1), 1e-3)
}

func TestLogicleMonotone(t *testing.T) {
	tr, err := NewLogicle(262144, 0.5, 4.5, 0)
	require.NoError(t, err)

	xs := []float64{-20000, -5000, -100, -1, 0, 1, 10, 100, 5000, 100000, 262144, 500000}
	prev := math.Inf(-1)
	for _, x := range xs {
		y := tr.Apply(x)
		assert.Greater(t, y, prev, "Apply(%g) must exceed Apply of previous input", x)
		prev = y
	}
}

func TestLogicleRoundTrip(t *testing.T) {
	tr, err := NewLogicle(262144, 0.5, 4.5, 0)
	require.NoError(t, err)

	for _, y := range []float64{-0.1, 0, 0.11, 0.3, 0.6, 0.9, 1.0} {
		x := tr.Inverse(y)
		assert.InDelta(t, y, tr.Apply(x), 1e-6, "round trip through y=%g", y)
	}
}

func TestLogicleParameterValidation(t *testing.T) {
	tests := []struct {
		name       string
		T, W, M, A float64
	}{
		{"negative T", -1, 0.5, 4.5, 0},
		{"negative M", 262144, 0.5, -1, 0},
		{"W too wide", 262144, 3, 4.5, 0},
		{"negative W", 262144, -0.5, 4.5, 0},
		{"A too negative", 262144, 0.5, 4.5, -1},
		{"A too large", 262144, 0.5, 4.5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogicle(tt.T, tt.W, tt.M, tt.A)
			assert.Error(t, err)
		})
	}
}

func TestTransformSetApply(t *testing.T) {
	f, err := NewFrame(testChannels(), []float64{
		1000, 2000, 150, 300,
		1100, 2100, 0, -150,
	})
	require.NoError(t, err)

	ts := TransformSet{
		"CD3": ArcsinhTransform{Cofactor: 150},
		"CD4": ArcsinhTransform{Cofactor: 150},
	}
	out, err := ts.Apply(f)
	require.NoError(t, err)

	assert.InDelta(t, math.Asinh(1), out.At(0, 2), 1e-12)
	assert.InDelta(t, math.Asinh(2), out.At(0, 3), 1e-12)
	assert.InDelta(t, math.Asinh(-1), out.At(1, 3), 1e-12)
	// Untouched channels and the original frame stay as they were.
	assert.Equal(t, 1000.0, out.At(0, 0))
	assert.Equal(t, 150.0, f.At(0, 2))

	_, err = TransformSet{"nope": LinearTransform{}}.Apply(f)
	assert.Error(t, err)
}

func TestTransformAllSkips(t *testing.T) {
	f, err := NewFrame(testChannels(), []float64{1000, 2000, 150, 300})
	require.NoError(t, err)

	out, err := TransformAll(f, ArcsinhTransform{Cofactor: 150}, "FSC-A", "SSC-A")
	require.NoError(t, err)

	assert.Equal(t, 1000.0, out.At(0, 0))
	assert.Equal(t, 2000.0, out.At(0, 1))
	assert.InDelta(t, math.Asinh(1), out.At(0, 2), 1e-12)
	assert.InDelta(t, math.Asinh(2), out.At(0, 3), 1e-12)
}
