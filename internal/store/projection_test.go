package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectionDeterministic(t *testing.T) {
	a, err := NewProjectionMatrix(16, 64, 42)
	require.NoError(t, err)
	b, err := NewProjectionMatrix(16, 64, 42)
	require.NoError(t, err)

	v := []float32{1, -2, 0.5, 3, -1, 0, 2, -0.5, 1, 1, -1, 0.25, 4, -3, 2, 0.1}
	ca, err := a.Project(v)
	require.NoError(t, err)
	cb, err := b.Project(v)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Len(t, ca, 8)
}

func TestProjectionDifferentSeeds(t *testing.T) {
	a, err := NewProjectionMatrix(16, 64, 1)
	require.NoError(t, err)
	b, err := NewProjectionMatrix(16, 64, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a.Rows, b.Rows)
}

func TestProjectionDimensionMismatch(t *testing.T) {
	m, err := NewProjectionMatrix(8, 16, 7)
	require.NoError(t, err)
	_, err = m.Project([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestProjectionRejectsBadShape(t *testing.T) {
	_, err := NewProjectionMatrix(0, 64, 1)
	assert.Error(t, err)
	_, err = NewProjectionMatrix(8, 7, 1)
	assert.Error(t, err)
	_, err = NewProjectionMatrix(8, 0, 1)
	assert.Error(t, err)
}

func TestProjectionSaveLoad(t *testing.T) {
	dir := t.TempDir()
	m, err := NewProjectionMatrix(4, 16, 99)
	require.NoError(t, err)
	require.NoError(t, m.Save(dir))

	loaded, err := LoadProjectionMatrix(dir)
	require.NoError(t, err)
	assert.Equal(t, m.Dimension, loaded.Dimension)
	assert.Equal(t, m.Bits, loaded.Bits)
	assert.Equal(t, m.Seed, loaded.Seed)

	v := []float32{0.5, -1, 2, -0.25}
	orig, err := m.Project(v)
	require.NoError(t, err)
	round, err := loaded.Project(v)
	require.NoError(t, err)
	assert.Equal(t, orig, round)
}

func TestLoadProjectionMatrixMissing(t *testing.T) {
	_, err := LoadProjectionMatrix(t.TempDir())
	require.Error(t, err)
}
