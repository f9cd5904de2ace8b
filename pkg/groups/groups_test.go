package groups

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wt.csv", "volume_id,genotype,crl\nwt1.nrrd,wildtype,12.5\nwt2.nrrd,wildtype,13\n")

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"volume_id", "genotype", "crl"}, table.Header)
	assert.Equal(t, []string{"wt1.nrrd", "wt2.nrrd"}, table.Order)

	row, ok := table.Lookup("wt2")
	require.True(t, ok)
	assert.Equal(t, "13", row["crl"])

	row, ok = table.Lookup("/data/wt1.nrrd")
	require.True(t, ok)
	assert.Equal(t, "wildtype", row["genotype"])

	_, ok = table.Lookup("missing")
	assert.False(t, ok)
}

func TestCombine(t *testing.T) {
	dir := t.TempDir()
	wt := writeFile(t, dir, "wt.csv", "volume_id,genotype\nwt1.nrrd,wildtype\n")
	mut := writeFile(t, dir, "mut.csv", "volume_id,genotype\nm1.nrrd,mutant\nm2.nrrd,mutant\n")

	table, err := Combine(wt, mut)
	require.NoError(t, err)
	assert.Equal(t, []string{"wt1.nrrd", "m1.nrrd", "m2.nrrd"}, table.Order)

	out := filepath.Join(dir, "combined_groups.csv")
	require.NoError(t, table.Write(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "volume_id,genotype\nwt1.nrrd,wildtype\nm1.nrrd,mutant\nm2.nrrd,mutant\n", string(data))
}

func TestCombineHeaderMismatch(t *testing.T) {
	dir := t.TempDir()
	wt := writeFile(t, dir, "wt.csv", "volume_id,genotype\nwt1.nrrd,wildtype\n")
	mut := writeFile(t, dir, "mut.csv", "volume_id,genotype,sex\nm1.nrrd,mutant,f\n")
	_, err := Combine(wt, mut)
	assert.Error(t, err)
}

func TestDefaultRespectsSubsets(t *testing.T) {
	table := Default(
		[]string{"wt1.nrrd", "wt2.nrrd", "wt3.nrrd"},
		[]string{"m1.nrrd", "m2.nrrd"},
		[]string{"wt1", "wt3"},
		nil,
	)
	assert.Equal(t, []string{"wt1.nrrd", "wt3.nrrd", "m1.nrrd", "m2.nrrd"}, table.Order)
	row, ok := table.Lookup("m2")
	require.True(t, ok)
	assert.Equal(t, Mutant, row[GenotypeColumn])
}

func TestReadSubset(t *testing.T) {
	dir := t.TempDir()
	ids, err := ReadSubset(writeFile(t, dir, "subset.txt", "wt1\n\n  wt2.nrrd \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"wt1", "wt2"}, ids)

	ids, err = ReadSubset(writeFile(t, dir, "empty.txt", ""))
	require.NoError(t, err)
	assert.Nil(t, ids)
}
