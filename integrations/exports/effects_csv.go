package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"
)

// EffectsCSV builds a CSV export for the supplied records and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func EffectsCSV(records []Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "height", "type", "market", "account", "attributes", "created_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			strconv.FormatUint(record.Height, 10),
			record.Type,
			record.Market,
			record.Account,
			record.Attributes,
			record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
