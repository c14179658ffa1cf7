package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTooBig = errors.New("too big")

func TestToUint32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      int
		want    uint32
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"max", math.MaxUint32, math.MaxUint32, false},
		{"one past max", math.MaxUint32 + 1, 0, true},
		{"negative", -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToUint32(tt.in, errTooBig)
			if tt.wantErr {
				require.ErrorIs(t, err, errTooBig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMulUint32(t *testing.T) {
	t.Parallel()

	got, ok := MulUint32(1<<20, 16)
	require.True(t, ok)
	assert.Equal(t, uint32(1<<24), got)

	_, ok = MulUint32(1<<31, 16)
	assert.False(t, ok)
}

func TestToIntAndInt64(t *testing.T) {
	t.Parallel()

	n, err := ToInt64(math.MaxInt64, errTooBig)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n)
	_, err = ToInt64(math.MaxInt64+1, errTooBig)
	require.ErrorIs(t, err, errTooBig)

	_, err = ToInt(math.MaxUint64, errTooBig)
	require.ErrorIs(t, err, errTooBig)
}

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(1, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(3), sum)
	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("abcd")), 4, errTooBig)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("abcde")), 4, errTooBig)
	require.ErrorIs(t, err, errTooBig)
}
