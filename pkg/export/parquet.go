package export

import (
	"fmt"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"procodus.dev/gait-monitor/pkg/gait"
)

// ParquetRow is the Parquet schema of an exported sample.
type ParquetRow struct {
	Timestamp string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Index     int64   `parquet:"name=index, type=INT64"`
	ElapsedS  float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	AccX      float64 `parquet:"name=acc_x, type=DOUBLE"`
	AccY      float64 `parquet:"name=acc_y, type=DOUBLE"`
	AccZ      float64 `parquet:"name=acc_z, type=DOUBLE"`
	GyroX     float64 `parquet:"name=gyro_x, type=DOUBLE"`
	GyroY     float64 `parquet:"name=gyro_y, type=DOUBLE"`
	GyroZ     float64 `parquet:"name=gyro_z, type=DOUBLE"`
}

// Parquet renders table rows as a SNAPPY-compressed Parquet file held in memory.
func Parquet(rows []gait.TableRow) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		row := ParquetRow{
			Timestamp: formatTimestamp(r.Timestamp),
			Index:     int64(r.Index),
			ElapsedS:  r.ElapsedSeconds,
			AccX:      r.AccX,
			AccY:      r.AccY,
			AccZ:      r.AccZ,
			GyroX:     r.GyroX,
			GyroY:     r.GyroY,
			GyroZ:     r.GyroZ,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row %d: %w", r.Index, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet buffer: %w", err)
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
