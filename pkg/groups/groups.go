// Package groups reads and writes the specimen group table that assigns
// genotype and other covariates to every volume, and the optional subset
// lists restricting which specimens are analysed.
package groups

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"phenostats/internal/models"
)

const (
	// IDColumn is the header of the first column of a groups file.
	IDColumn = "volume_id"

	GenotypeColumn = "genotype"
	Wildtype       = "wildtype"
	Mutant         = "mutant"
)

// Table maps specimen ids to covariate values. Order keeps the row order of
// the source file, which is the canonical specimen order.
type Table struct {
	Header []string
	Order  []string
	rows   map[string]map[string]string
}

func newTable(header []string) *Table {
	return &Table{Header: header, rows: make(map[string]map[string]string)}
}

func (t *Table) add(record []string) error {
	if len(record) != len(t.Header) {
		return fmt.Errorf("row %v has %d fields, header has %d", record, len(record), len(t.Header))
	}
	row := make(map[string]string, len(record)-1)
	for i := 1; i < len(record); i++ {
		row[t.Header[i]] = strings.TrimSpace(record[i])
	}
	id := strings.TrimSpace(record[0])
	t.Order = append(t.Order, id)
	t.rows[models.SpecimenID(id)] = row
	return nil
}

// Lookup returns the covariates of a specimen. Ids match with or without a
// volume file extension.
func (t *Table) Lookup(id string) (map[string]string, bool) {
	row, ok := t.rows[models.SpecimenID(id)]
	return row, ok
}

// Len returns the number of specimens in the table.
func (t *Table) Len() int {
	return len(t.Order)
}

// Load reads a groups CSV file. The first row is the header and its first
// column holds volume ids.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening groups file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error parsing groups file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("groups file %s is empty", path)
	}
	t := newTable(records[0])
	for _, rec := range records[1:] {
		if err := t.add(rec); err != nil {
			return nil, fmt.Errorf("groups file %s: %w", path, err)
		}
	}
	return t, nil
}

// Combine concatenates a wildtype and a mutant groups file. The two headers
// must be identical.
func Combine(wtPath, mutPath string) (*Table, error) {
	wt, err := Load(wtPath)
	if err != nil {
		return nil, err
	}
	mut, err := Load(mutPath)
	if err != nil {
		return nil, err
	}
	if strings.Join(wt.Header, ",") != strings.Join(mut.Header, ",") {
		return nil, fmt.Errorf("wildtype header %v and mutant header %v differ", wt.Header, mut.Header)
	}
	for _, id := range mut.Order {
		row := mut.rows[models.SpecimenID(id)]
		record := []string{id}
		for _, col := range mut.Header[1:] {
			record = append(record, row[col])
		}
		if err := wt.add(record); err != nil {
			return nil, err
		}
	}
	return wt, nil
}

// Default builds a two-column table labelling every wildtype file as
// "wildtype" and every mutant file as "mutant". Non-empty subsets restrict
// the files listed.
func Default(wtFiles, mutFiles, wtSubset, mutSubset []string) *Table {
	t := newTable([]string{IDColumn, GenotypeColumn})
	addAll := func(files, subset []string, genotype string) {
		keep := toSet(subset)
		for _, f := range files {
			if len(keep) > 0 && !keep[models.SpecimenID(f)] {
				continue
			}
			_ = t.add([]string{f, genotype})
		}
	}
	addAll(wtFiles, wtSubset, Wildtype)
	addAll(mutFiles, mutSubset, Mutant)
	return t
}

// Write stores the table as CSV.
func (t *Table) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating groups file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	for _, id := range t.Order {
		row := t.rows[models.SpecimenID(id)]
		record := []string{id}
		for _, col := range t.Header[1:] {
			record = append(record, row[col])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadSubset reads one specimen id per line. An empty file yields nil,
// meaning no subset.
func ReadSubset(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening subset file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, models.SpecimenID(id))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading subset file %s: %w", path, err)
	}
	return ids, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[models.SpecimenID(id)] = true
	}
	return set
}
