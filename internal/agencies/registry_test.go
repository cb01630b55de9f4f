package agencies

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
agencies:
  - name: perolehan
    description: Procurement and tender complaints
    classification: rasuah
    keywords: [tender, sebut harga, kontraktor, rasuah]
  - name: aset
    description: Asset and inventory complaints
    classification: penyelewengan
    keywords: [aset, stor, inventori, kehilangan]
  - name: perolehan
    description: duplicate, must be ignored
    classification: lain-lain
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0600))

	r, err := Load(path)
	require.NoError(t, err)
	return r
}

func TestLoad(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"perolehan", "aset"}, r.Names())

	a := r.Get("perolehan")
	require.NotNil(t, a)
	assert.Equal(t, "rasuah", a.Classification)
	assert.Nil(t, r.Get("unknown"))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Classify("apa-apa sahaja"))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agencies: [:::"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	r := loadTestRegistry(t)

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "procurement keywords win",
			text:     "Kontraktor menawarkan rasuah untuk memenangi tender",
			expected: "rasuah",
		},
		{
			name:     "asset keywords win",
			text:     "Kehilangan aset dari stor tanpa rekod inventori",
			expected: "penyelewengan",
		},
		{
			name:     "tie keeps definition order",
			text:     "tender aset",
			expected: "rasuah",
		},
		{
			name:     "no match",
			text:     "Kelewatan bayaran kepada pembekal",
			expected: "",
		},
		{
			name:     "case insensitive",
			text:     "TENDER projek jalan",
			expected: "rasuah",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Classify(tt.text))
		})
	}
}

func TestClassify_NilRegistry(t *testing.T) {
	var r *Registry
	assert.Empty(t, r.Classify("tender"))
	assert.Equal(t, 0, r.Len())
}
