package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"procodus.dev/gait-monitor/pkg/gait"
)

// CSV renders table rows with a header line.
func CSV(rows []gait.TableRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(Header))
	for _, r := range rows {
		record[0] = strconv.Itoa(r.Index)
		record[1] = formatTimestamp(r.Timestamp)
		record[2] = formatFloat(r.ElapsedSeconds)
		record[3] = formatFloat(r.AccX)
		record[4] = formatFloat(r.AccY)
		record[5] = formatFloat(r.AccZ)
		record[6] = formatFloat(r.GyroX)
		record[7] = formatFloat(r.GyroY)
		record[8] = formatFloat(r.GyroZ)
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row %d: %w", r.Index, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
