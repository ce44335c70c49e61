package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EffectsJSONL builds a JSON Lines export for the supplied records and
// returns the serialised payload alongside a checksum.
func EffectsJSONL(records []Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		attrs, err := record.Attrs()
		if err != nil {
			return nil, "", err
		}
		payload := map[string]interface{}{
			"id":         record.ID.String(),
			"sequence":   record.Sequence,
			"height":     record.Height,
			"type":       record.Type,
			"attributes": attrs,
			"created_at": record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
