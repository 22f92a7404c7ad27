package dbtypes

import (
	"testing"

	"levramail-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2.25]", Vector{0.5, -1, 2.25}.Literal())
	assert.Equal(t, "[]", Vector(nil).Literal())
}

func TestVectorScanValue(t *testing.T) {
	v, err := Vector{1, 2.5}.Value()
	require.NoError(t, err)

	var out Vector
	require.NoError(t, out.Scan(v))
	assert.Equal(t, Vector{1, 2.5}, out)

	empty, err := Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestStringArrayScanValue(t *testing.T) {
	v, err := StringArray{"inbox", "un read"}.Value()
	require.NoError(t, err)

	var out StringArray
	require.NoError(t, out.Scan(v))
	assert.Equal(t, StringArray{"inbox", "un read"}, out)
	assert.True(t, out.Contains("inbox"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}

type embeddedRow struct {
	ID         string `gorm:"primaryKey"`
	Labels     StringArray
	Embeddings Vector
}

func TestArraysMigrateAndRoundTrip(t *testing.T) {
	db := testutil.NewDB(t, &embeddedRow{})

	require.NoError(t, db.Create(&embeddedRow{ID: "with", Labels: StringArray{"inbox"}, Embeddings: Vector{0.25, 1}}).Error)
	require.NoError(t, db.Create(&embeddedRow{ID: "without"}).Error)

	var with, without embeddedRow
	require.NoError(t, db.First(&with, "id = ?", "with").Error)
	require.NoError(t, db.First(&without, "id = ?", "without").Error)

	assert.Equal(t, Vector{0.25, 1}, with.Embeddings)
	assert.Equal(t, StringArray{"inbox"}, with.Labels)
	assert.Empty(t, without.Embeddings)
	assert.Empty(t, without.Labels)
}
