// Package export renders an analysed reading as a downloadable file.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"procodus.dev/gait-monitor/pkg/gait"
)

// Format is a supported export file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported formats.
var ErrUnknownFormat = errors.New("unknown export format")

// Header is the column order shared by every format.
var Header = []string{
	"index",
	"timestamp",
	"elapsed_s",
	"acc_x",
	"acc_y",
	"acc_z",
	"gyro_x",
	"gyro_y",
	"gyro_z",
}

// ParseFormat converts a query value to a Format. Empty selects CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatParquet:
		return "application/vnd.apache.parquet"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns a download file name for a reading.
func (f Format) FileName(readingID string) string {
	return "reading-" + readingID + "." + string(f)
}

// Encode renders the analysis in the given format.
func Encode(format Format, a *gait.Analysis) ([]byte, error) {
	if a == nil {
		return nil, errors.New("analysis cannot be nil")
	}
	switch format {
	case FormatCSV:
		return CSV(a.Table)
	case FormatParquet:
		return Parquet(a.Table)
	case FormatXLSX:
		return XLSX(a.Summary, a.Table)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
