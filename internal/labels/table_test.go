package labels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/panns-go/internal/errors"
)

const sampleCSV = `index,mid,display_name
0,/m/09x0r,"Speech"
1,/m/05zppz,"Male speech, man speaking"
2,/m/02zsn,"Female speech, woman speaking"
3,/m/0ytgt,"Child speech, kid speaking"
`

func TestParse_RoundTripsEveryIndex(t *testing.T) {
	t.Parallel()

	table, err := Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Equal(t, 4, table.Len())
	assert.False(t, table.IsSynthetic())

	for ix := range table.Len() {
		c, ok := table.Class(ix)
		require.True(t, ok)
		assert.Equal(t, ix, c.Index)

		byName, ok := table.IndexOfName(table.Name(ix))
		require.True(t, ok)
		assert.Equal(t, ix, byName)

		byID, ok := table.IndexOfID(table.ID(ix))
		require.True(t, ok)
		assert.Equal(t, ix, byID)
	}

	assert.Equal(t, "Male speech, man speaking", table.Name(1))
	assert.Equal(t, "/m/02zsn", table.ID(2))
}

func TestParse_RowOrderDefinesIndex(t *testing.T) {
	t.Parallel()

	table, err := Parse(strings.NewReader("index,mid,display_name\n7,/m/a,A\n3,/m/b,B,extra\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, table.Names())
	assert.Equal(t, []string{"/m/a", "/m/b"}, table.IDs())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty"},
		{"header only", "index,mid,display_name\n", "no rows"},
		{"short row", "index,mid,display_name\n0,/m/a\n", "fields"},
		{"duplicate id", "index,mid,display_name\n0,/m/a,A\n1,/m/a,B\n", "duplicate id"},
		{"duplicate name", "index,mid,display_name\n0,/m/a,A\n1,/m/b,A\n", "duplicate name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.IsDataLoad(err), "want data load error, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsDataLoad(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSynthetic(t *testing.T) {
	t.Parallel()

	table := Synthetic(527)
	require.Equal(t, 527, table.Len())
	assert.True(t, table.IsSynthetic())
	assert.Equal(t, "label_0", table.Name(0))
	assert.Equal(t, "label_526", table.Name(526))
	assert.Equal(t, "/synthetic/526", table.ID(526))

	ix, ok := table.IndexOfName("label_300")
	require.True(t, ok)
	assert.Equal(t, 300, ix)
}

func TestTable_OutOfRange(t *testing.T) {
	t.Parallel()

	table := Synthetic(2)
	_, ok := table.Class(2)
	assert.False(t, ok)
	assert.Empty(t, table.Name(-1))
	assert.Empty(t, table.ID(5))
}
