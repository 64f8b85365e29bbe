package reconciliation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lantuyan/crawler-f1-sub000/pkg/csvstore"
)

const (
	urlA = "https://example.test/p/anna"
	urlB = "https://example.test/p/bea"
	urlC = "https://example.test/p/cleo"
)

func listingRow(name, url string) []string {
	return []string{name, "Zurich", url}
}

func writeCSV(t *testing.T, path string, dataRows ...[]string) {
	t.Helper()
	rows := [][]string{csvstore.ListingSchema().Header}
	rows = append(rows, dataRows...)
	require.NoError(t, csvstore.WriteRowsAtomic(path, rows))
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	rows, err := csvstore.ReadRows(path)
	require.NoError(t, err)
	return rows
}

func newTestReconciler() *CSVReconciler {
	return NewCSVReconciler(csvstore.ListingSchema(), nil)
}

func TestReconcileFirstRunStoresEverything(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	writeCSV(t, current, listingRow("Anna", urlA), listingRow("Bea", urlB))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)

	assert.Equal(t, 2, report.NewRecords)
	assert.Equal(t, 0, report.DuplicatesRemoved)
	assert.Equal(t, 0, report.ObsoleteRecords)
	assert.Equal(t, 2, report.TotalCurrent)
	assert.Equal(t, 2, report.TotalStored)
	assert.Equal(t, []string{urlA, urlB}, report.NewKeys)
	assert.True(t, report.Changed())

	storedRows := readRows(t, stored)
	require.Len(t, storedRows, 3, "a missing stored file starts an empty dataset")
	assert.Equal(t, listingRow("Anna", urlA), storedRows[1])
	assert.Equal(t, listingRow("Bea", urlB), storedRows[2])

	currentRows := readRows(t, current)
	assert.Len(t, currentRows, 3, "first-cycle records are all new and stay in current")
}

func TestReconcilePartitionsSecondCycle(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	// Cycle one saw Anna and Bea; cycle two saw Bea and Cleo.
	writeCSV(t, stored, listingRow("Anna", urlA), listingRow("Bea", urlB))
	writeCSV(t, current, listingRow("Bea", urlB), listingRow("Cleo", urlC))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)

	assert.Equal(t, 1, report.NewRecords, "Cleo is new")
	assert.Equal(t, 1, report.DuplicatesRemoved, "Bea was already stored")
	assert.Equal(t, 1, report.ObsoleteRecords, "Anna vanished from the site")
	assert.Equal(t, []string{urlC}, report.NewKeys)
	assert.Equal(t, []string{urlA}, report.ObsoleteKeys)
	assert.Equal(t, 2, report.TotalCurrent)
	assert.Equal(t, 2, report.TotalStored)

	storedRows := readRows(t, stored)
	require.Len(t, storedRows, 3)
	assert.Equal(t, listingRow("Bea", urlB), storedRows[1], "survivors keep their position")
	assert.Equal(t, listingRow("Cleo", urlC), storedRows[2], "new records append after survivors")

	currentRows := readRows(t, current)
	require.Len(t, currentRows, 2, "current shrinks to the genuinely new records")
	assert.Equal(t, listingRow("Cleo", urlC), currentRows[1])
}

func TestReconcileRecrawlOfSameSetEmptiesCurrent(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	writeCSV(t, stored, listingRow("Anna", urlA), listingRow("Bea", urlB))
	writeCSV(t, current, listingRow("Anna", urlA), listingRow("Bea", urlB))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)

	assert.Equal(t, 0, report.NewRecords)
	assert.Equal(t, 2, report.DuplicatesRemoved)
	assert.Equal(t, 0, report.ObsoleteRecords)
	assert.Equal(t, 2, report.TotalStored)

	assert.Len(t, readRows(t, stored), 3, "stored keeps the full dataset")
	assert.Len(t, readRows(t, current), 1, "current holds only the header")
}

func TestReconcileMissingCurrentIsANoOp(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	writeCSV(t, stored, listingRow("Anna", urlA))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err, "no crawl output yet is not an error")
	assert.False(t, report.Changed())

	assert.Len(t, readRows(t, stored), 2, "stored is untouched")
}

func TestReconcileFirstOccurrenceWinsWithinCurrent(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	writeCSV(t, current,
		listingRow("Anna", urlA),
		listingRow("Anna updated", urlA),
		listingRow("Bea", urlB),
	)

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)

	assert.Equal(t, 2, report.NewRecords)
	assert.Equal(t, 2, report.TotalCurrent, "the repeated key counts once")

	storedRows := readRows(t, stored)
	require.Len(t, storedRows, 3)
	assert.Equal(t, "Anna", storedRows[1][0])
}

func TestReconcileSkipsRowsWithoutKey(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	require.NoError(t, csvstore.WriteRowsAtomic(current, [][]string{
		csvstore.ListingSchema().Header,
		{"short", "row"},
		{"Anna", "Zurich", ""},
		listingRow("Bea", urlB),
	}))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewRecords)
	assert.Equal(t, []string{urlB}, report.NewKeys)
}

func TestReconcileFollowsTheFileHeader(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	// The key column sits first here, not at the schema position.
	require.NoError(t, csvstore.WriteRowsAtomic(current, [][]string{
		{"Profile URL", "Name", "Location"},
		{urlA, "Anna", "Zurich"},
		{urlA, "Anna again", "Bern"},
	}))

	report, err := newTestReconciler().Reconcile(context.Background(), current, stored)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewRecords, "deduplication keys off the file's own header")
	assert.Equal(t, []string{urlA}, report.NewKeys)
}

func TestReconcileHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.csv")
	stored := filepath.Join(dir, "stored.csv")
	writeCSV(t, current, listingRow("Anna", urlA))
	writeCSV(t, stored, listingRow("Bea", urlB))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestReconciler().Reconcile(ctx, current, stored)
	require.ErrorIs(t, err, context.Canceled)

	storedRows := readRows(t, stored)
	require.Len(t, storedRows, 2)
	assert.Equal(t, listingRow("Bea", urlB), storedRows[1], "neither file is rewritten after cancellation")
}
