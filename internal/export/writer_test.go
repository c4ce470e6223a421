package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"go-export-service/internal/model"
)

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	w, err := NewWriter(model.Format("pdf"), filepath.Join(t.TempDir(), "out.pdf"))
	assert.Nil(t, w)
	assert.Error(t, err)
}

func TestCSVWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewWriter(model.FormatCSV, path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"name", "note"}))
	require.NoError(t, w.WriteRow([]string{"plain", "with,comma"}))
	require.NoError(t, w.WriteRow([]string{"with \"quote\"", "multi\nline"}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM), "artifact must start with a byte order mark")

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"name", "note"},
		{"plain", "with,comma"},
		{"with \"quote\"", "multi\nline"},
	}, records)
}

func TestCSVWriterPreservesEscapedFormula(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewWriter(model.FormatCSV, path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"value"}))
	require.NoError(t, w.WriteRow([]string{EncodeCell("=SUM(A1)", model.FormatCSV)}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "'=SUM(A1)", records[1][0])
}

func TestXLSXWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")

	w, err := NewWriter(model.FormatXLSX, path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"id", "name"}))
	require.NoError(t, w.WriteRow([]string{"1", "alpha"}))
	require.NoError(t, w.WriteRow([]string{"2", "beta"}))
	require.NoError(t, w.Close())

	book, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(sheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "name"},
		{"1", "alpha"},
		{"2", "beta"},
	}, rows)
}

func TestXLSXWriterManyRowsStaysStreaming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.xlsx")

	w, err := NewWriter(model.FormatXLSX, path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"n"}))
	for i := 0; i < 2000; i++ {
		require.NoError(t, w.WriteRow([]string{EncodeCell(int64(i), model.FormatXLSX)}))
	}
	require.NoError(t, w.Close())

	book, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2001)
	assert.Equal(t, []string{"1999"}, rows[2000])
}
