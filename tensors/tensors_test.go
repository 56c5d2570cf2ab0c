package tensors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestCheckShape(t *testing.T) {
	x := Zeros(2, 3, 4)

	assert.NoError(t, CheckShape(x, "x", 2, 3, 4))
	assert.NoError(t, CheckShape(x, "x", Any, 3, Any))

	err := CheckShape(x, "x", 2, 3)
	require.Error(t, err)
	assert.Equal(t, ErrShapeMismatch, errors.Cause(err))

	err = CheckShape(x, "x", 2, 5, 4)
	require.Error(t, err)
	assert.Equal(t, ErrShapeMismatch, errors.Cause(err))

	assert.Equal(t, ErrShapeMismatch, errors.Cause(CheckShape(nil, "x", 1)))
}

func TestIndex(t *testing.T) {
	x := New([]float32{1, 2, 3, 4, 5, 6}, 3, 2)

	row, err := Index(x, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, row.Shape())
	assert.Equal(t, []float32{3, 4}, row.Data())

	// The copy does not alias the source.
	data, err := Float32s(row)
	require.NoError(t, err)
	data[0] = 99
	v, err := x.At(1, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v)

	_, err = Index(x, 3)
	assert.Error(t, err)
}

func TestInts(t *testing.T) {
	ids := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]int32{0, 2, 1}))
	got, err := Ints(ids)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, got)

	got, err = Ints(New([]float32{3, 0}, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0}, got)
}

// channelsLast is the plain loop the tensor permute must agree with.
func channelsLast(data []float32, b, c, h, w int) []float32 {
	out := make([]float32, len(data))
	for ib := 0; ib < b; ib++ {
		for ic := 0; ic < c; ic++ {
			for iy := 0; iy < h; iy++ {
				for ix := 0; ix < w; ix++ {
					out[((ib*h+iy)*w+ix)*c+ic] = data[((ib*c+ic)*h+iy)*w+ix]
				}
			}
		}
	}
	return out
}

func TestChannelsLast(t *testing.T) {
	t.Run("Small", func(t *testing.T) {
		// B=1, C=2, H=1, W=3
		x := New([]float32{
			1, 2, 3,
			4, 5, 6,
		}, 1, 2, 1, 3)
		require.NoError(t, ChannelsLast(x))
		assert.Equal(t, tensor.Shape{1, 1, 3, 2}, x.Shape())
		assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, x.Data())
	})

	t.Run("Matches loop", func(t *testing.T) {
		data := make([]float32, 2*3*4*5)
		for i := range data {
			data[i] = float32(i)
		}
		want := channelsLast(data, 2, 3, 4, 5)

		x := New(append([]float32(nil), data...), 2, 3, 4, 5)
		require.NoError(t, ChannelsLast(x))
		assert.Equal(t, tensor.Shape{2, 4, 5, 3}, x.Shape())
		assert.Equal(t, want, x.Data())

		v, err := x.At(1, 2, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, data[((1*3+1)*4+2)*5+3], v)
	})

	t.Run("Rejects other ranks", func(t *testing.T) {
		err := ChannelsLast(Zeros(2, 3, 4))
		assert.Equal(t, ErrShapeMismatch, errors.Cause(err))
	})
}

func TestMaterialize(t *testing.T) {
	x := New([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 4)

	view, err := x.Slice(nil, nil, tensor.S(0, 3))
	require.NoError(t, err)
	out, err := Materialize(view, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 3}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 5, 6, 7}, out.Data())

	// A unit axis is restored after indexing.
	col := New([]float32{1, 2, 3}, 3, 1)
	row, err := Index(col, 2)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1}, row.Shape())
	assert.Equal(t, []float32{3}, row.Data())
}
