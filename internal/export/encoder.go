package export

import (
	"fmt"
	"strconv"
	"time"

	"go-export-service/internal/model"
)

// nullCell is the rendering of absent values in every output format.
const nullCell = "N/A"

// timeLayout renders timestamps day/month/year with a 24h clock so the
// output is stable across locales.
const timeLayout = "02/01/2006 15:04:05"

// EncodeCell converts one raw source value into its output cell text.
// It is a pure function: nil maps to a fixed placeholder, timestamps use
// timeLayout, and everything else gets its canonical string form. For
// delimited text the result is additionally guarded against spreadsheet
// formula injection; spreadsheet cells are written as inert text and
// need no guard.
func EncodeCell(value any, format model.Format) string {
	s := renderCell(value)
	if format == model.FormatCSV {
		s = escapeFormula(s)
	}
	return s
}

func renderCell(value any) string {
	switch v := value.(type) {
	case nil:
		return nullCell
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(timeLayout)
	case *time.Time:
		if v == nil {
			return nullCell
		}
		return v.Format(timeLayout)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// escapeFormula prepends an apostrophe when s would otherwise be parsed
// as a formula by spreadsheet applications opening the delimited file.
// The check runs on the encoded string, so negative numbers are escaped
// too.
func escapeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
