package sessionware

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeData returns the JSON encoding of a session payload. The result is
// owned by the caller.
func encodeData(values map[string]any, maxBytes int) ([]byte, error) {
	buf := getBuffer()
	defer PutBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(values); err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	if maxBytes > 0 && len(b) > maxBytes {
		return nil, ErrSessionTooLarge
	}
	return append([]byte(nil), b...), nil
}

// decodeData decodes a stored payload. Numbers are kept as json.Number so
// they are written back exactly as they were read.
func decodeData(data []byte, maxBytes int) (map[string]any, error) {
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, ErrSessionTooLarge
	}

	var values map[string]any
	if len(data) > 0 {
		reader := readerPool.Get().(*bytes.Reader)
		reader.Reset(data)
		defer readerPool.Put(reader)

		dec := json.NewDecoder(reader)
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("failed to decode session data: %w", err)
		}
	}

	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}
