package keyfilter

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_insertAndQuery(t *testing.T) {
	f, err := New(128, 10, 7)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	keys := make([][]byte, 128)
	for i := range keys {
		keys[i] = make([]byte, 32)
		rng.Read(keys[i])
		f.Insert(keys[i])
	}
	require.EqualValues(t, 128, f.Inserted())

	for i, k := range keys {
		assert.True(t, f.MayContain(k), "inserted key %d must not be reported absent", i)
	}

	// at 10 bits per key and k=7 the false positive rate is under 1%; with
	// 1000 probes a handful of positives is expected, dozens are not
	falsePositives := 0
	for i := 0; i < 1000; i++ {
		probe := make([]byte, 32)
		rng.Read(probe)
		if f.MayContain(probe) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 40)
}

func TestFilter_marshalRoundTrip(t *testing.T) {
	f, err := New(64, 10, 7)
	require.NoError(t, err)
	f.Insert([]byte("alpha"))
	f.Insert([]byte("beta"))

	g, err := Unmarshal(f.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.Inserted())
	assert.True(t, g.MayContain([]byte("alpha")))
	assert.True(t, g.MayContain([]byte("beta")))
	assert.False(t, g.MayContain([]byte("gamma")))
}

func TestFilter_rejectsBadRegions(t *testing.T) {
	f, err := New(64, 10, 7)
	require.NoError(t, err)
	region := f.Marshal()

	_, err = Unmarshal(region[:8])
	assert.ErrorIs(t, err, ErrBadRegionSize)

	bad := append([]byte(nil), region...)
	bad[0] = 'X'
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte(nil), region...)
	bad[4] = 9
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrBadVersion)

	bad = append([]byte(nil), region...)
	bad[5] = 0
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrBadK)

	bad = append([]byte(nil), region...)
	bad[15] = 1
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrReservedHeader)

	bad = append([]byte(nil), region...)
	_, err = Unmarshal(bad[:len(bad)-1])
	assert.ErrorIs(t, err, ErrBadRegionSize)
}

func TestFilter_rejectsBadSizing(t *testing.T) {
	_, err := New(0, 10, 7)
	assert.ErrorIs(t, err, ErrBadSizing)
	_, err = New(10, 0, 7)
	assert.ErrorIs(t, err, ErrBadSizing)
	_, err = New(10, 10, 0)
	assert.ErrorIs(t, err, ErrBadSizing)
	_, err = New(1<<40, 1<<30, 7)
	assert.ErrorIs(t, err, ErrSizeOverflow)
}
