package excel

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const census = `site,year,sp,ab
B,1990,oak,3
A,1990,oak,12
A,1990,elm,4
A,1991,oak,2
A,1990,ash,0
B,1990,fir,1
`

func TestCensusReader_CSVGroupsBySite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forest_spab.csv"), []byte(census), 0o644))

	path, err := ResolvePath(dir, "forest")
	require.NoError(t, err)

	cs, err := NewCensusReader().WithLogger(internal.Discard).ReadCommunities(context.Background(), "forest", path)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.Equal(t, "A", string(cs[0].ID()))
	assert.Equal(t, []int{14, 4}, cs[0].Abundances())
	assert.Equal(t, 18, cs[0].N0())
	assert.Equal(t, "B", string(cs[1].ID()))
	assert.Equal(t, []int{3, 1}, cs[1].Abundances())
	assert.Equal(t, "forest", string(cs[1].Dataset()))
}

func TestCensusReader_XLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reef_spab.xlsx")
	require.NoError(t, WriteTable(path, [][]string{
		{"Site", "Year", "Sp", "Ab"},
		{"r1", "2001", "a", "5"},
		{"r1", "2001", "b", "2.0"},
		{"r2", "2001", "a", "7"},
	}))

	resolved, err := ResolvePath(dir, "reef")
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	cs, err := NewCensusReader().WithLogger(internal.Discard).ReadCommunities(context.Background(), "reef", path)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, []int{5, 2}, cs[0].Abundances())
	assert.Equal(t, 1, cs[1].S0())
}

func TestCensusReader_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ResolvePath(dir, "missing")
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad_spab.csv")
	require.NoError(t, os.WriteFile(bad, []byte("site,sp,ab\nA,oak,many\n"), 0o644))
	_, err = NewCensusReader().WithLogger(internal.Discard).ReadCommunities(context.Background(), "bad", bad)
	assert.Error(t, err)

	nocol := filepath.Join(dir, "nocol_spab.csv")
	require.NoError(t, os.WriteFile(nocol, []byte("site,species\nA,oak\n"), 0o644))
	_, err = NewCensusReader().WithLogger(internal.Discard).ReadCommunities(context.Background(), "nocol", nocol)
	assert.ErrorContains(t, err, `missing column "sp"`)
	assert.ErrorContains(t, err, `missing column "ab"`)
	assert.NotContains(t, err.Error(), `missing column "site"`)
}

func TestWorkbookExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	fits := []fit.FitResult{
		{Model: "mete", Dataset: "d", Community: "A", S0: 12, N0: 300, K: 1, LogLikelihood: -40.5, AICc: 83.4, RSquared: 0.91, AkaikeWeight: 0.7},
		{Model: "logseries", Dataset: "d", Community: "A", S0: 12, N0: 300, K: 1, LogLikelihood: -41, AICc: math.NaN(), RSquared: 0.88, AkaikeWeight: math.NaN()},
	}
	failures := []fit.Failure{{Dataset: "d", Community: "Z", Stage: "empirical", Code: "INSUFFICIENT_DATA", Reason: "S0=3"}}

	require.NoError(t, NewWorkbookExporter(path).Export(fits, nil, failures))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetFits, SheetNull, SheetFailures}, f.GetSheetList())
	rows, err := f.GetRows(SheetFits)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "mete", rows[1][2])
	assert.Equal(t, "0.91", rows[1][8])
	// undefined AICc is left blank
	assert.Equal(t, "", rows[2][7])

	fails, err := f.GetRows(SheetFailures)
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_DATA", fails[1][3])
}

func TestDiscoverDatasets(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bci_spab.csv", "cocoli_spab.xlsx", "bci_spab.xlsx", "notes.txt", "_spab.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old_spab.csv"), 0o755))

	got, err := DiscoverDatasets(dir)
	require.NoError(t, err)
	assert.Equal(t, []core.DatasetName{"bci", "cocoli"}, got)

	_, err = DiscoverDatasets(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
