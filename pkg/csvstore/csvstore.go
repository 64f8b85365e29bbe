// Package csvstore reads and writes the append-only CSV files the crawler
// harvests into. Every field is quoted on write, embedded quotes doubled;
// reads go through encoding/csv and accept any standards-compliant file.
package csvstore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lantuyan/crawler-f1-sub000/pkg/model"
)

// Schema names the columns of one CSV file and which column is the unique
// key.
type Schema struct {
	Header   []string
	KeyIndex int
}

// KeyColumn returns the name of the key column.
func (s Schema) KeyColumn() string {
	return s.Header[s.KeyIndex]
}

// ListingSchema describes the listing files reconciliation runs over. The
// profile URL is the unique key.
func ListingSchema() Schema {
	return Schema{
		Header:   []string{"Name", "Location", "Profile URL"},
		KeyIndex: 2,
	}
}

// ProfileSchema describes the harvested profile detail file.
func ProfileSchema() Schema {
	return Schema{
		Header: []string{
			"URL", "Nickname", "Canton", "City", "Category", "Phone",
			"Active", "Certified", "About", "Visits", "Likes",
			"Followers", "Reviews", "Services", "Link", "Status",
		},
		KeyIndex: 0,
	}
}

// ListingRow flattens a listing record into its CSV row.
func ListingRow(record model.ListingRecord) []string {
	return []string{record.Name, record.Location, record.ProfileURL}
}

// ProfileRow flattens a profile record into its CSV row.
func ProfileRow(record *model.ProfileRecord) []string {
	return []string{
		record.URL,
		record.Nickname,
		record.Canton,
		record.City,
		record.Category,
		record.Phone,
		strconv.FormatBool(record.Active),
		strconv.FormatBool(record.Certified),
		record.About,
		strconv.Itoa(record.Visits),
		strconv.Itoa(record.Likes),
		strconv.Itoa(record.Followers),
		strconv.Itoa(record.Reviews),
		strings.Join(record.Services, "; "),
		record.Link,
		string(record.Status),
	}
}

// ProfileFromRow rebuilds a profile record from its CSV row. Numeric and
// boolean fields that fail to parse become zero values rather than errors;
// the row's presence in the file is what matters.
func ProfileFromRow(row []string) (*model.ProfileRecord, error) {
	schema := ProfileSchema()
	if len(row) < len(schema.Header) {
		return nil, fmt.Errorf("profile row has %d fields, want %d", len(row), len(schema.Header))
	}
	record := &model.ProfileRecord{
		URL:      row[0],
		Nickname: row[1],
		Canton:   row[2],
		City:     row[3],
		Category: row[4],
		Phone:    row[5],
		About:    row[8],
		Link:     row[14],
		Status:   model.RecordStatus(row[15]),
	}
	record.Active, _ = strconv.ParseBool(row[6])
	record.Certified, _ = strconv.ParseBool(row[7])
	record.Visits, _ = strconv.Atoi(row[9])
	record.Likes, _ = strconv.Atoi(row[10])
	record.Followers, _ = strconv.Atoi(row[11])
	record.Reviews, _ = strconv.Atoi(row[12])
	if row[13] != "" {
		record.Services = strings.Split(row[13], "; ")
	}
	return record, nil
}

// Keys reads the key column of every data row in path.
func Keys(path string, schema Schema) ([]string, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) <= schema.KeyIndex {
			continue
		}
		keys = append(keys, row[schema.KeyIndex])
	}
	return keys, nil
}

// EncodeRow renders one row with every field quoted and embedded quotes
// doubled, terminated by a newline.
func EncodeRow(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

// ReadRows parses a whole CSV file, header row included. Rows may have
// ragged widths; callers skip rows too short to carry their key.
func ReadRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

// WriteRowsAtomic replaces path with the given rows via a temp file in the
// same directory, fsync, then rename. Readers never observe a half-written
// file.
func WriteRowsAtomic(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(EncodeRow(row))
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp over %s: %w", path, err)
	}
	return nil
}
