package exports

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"lendcore/native/comptroller"
)

// DistributionRow is the parquet layout of one reward settlement. Amounts and
// indices stay decimal strings so no precision is lost.
type DistributionRow struct {
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	Height    int64  `parquet:"name=height, type=INT64"`
	Side      string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market    string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account   string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Delta     string `parquet:"name=delta, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index     string `parquet:"name=index, type=BYTE_ARRAY, convertedtype=UTF8"`
	Accrued   string `parquet:"name=accrued, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// DistributionRows keeps the reward distribution records and flattens them.
func DistributionRows(records []Record) ([]DistributionRow, error) {
	rows := make([]DistributionRow, 0, len(records))
	for _, record := range records {
		if record.Type != comptroller.EventTypeRewardDistributed {
			continue
		}
		attrs, err := record.Attrs()
		if err != nil {
			return nil, err
		}
		rows = append(rows, DistributionRow{
			Sequence:  int64(record.Sequence),
			Height:    int64(record.Height),
			Side:      attrs["side"],
			Market:    attrs["market"],
			Account:   attrs["account"],
			Delta:     attrs["delta"],
			Index:     attrs["index"],
			Accrued:   attrs["accrued"],
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows, nil
}

// WriteParquet writes the reward distributions among records to path and
// returns how many rows were written.
func WriteParquet(path string, records []Record) (int, error) {
	rows, err := DistributionRows(records)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(DistributionRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(&rows[i]); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("exports: close parquet file: %w", err)
	}
	return len(rows), nil
}
