package message

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message/mail"
)

// Headers reads the top-level header fields of a raw message. Repeated
// fields keep their first value. Encoded words are decoded where possible.
func Headers(raw []byte) (map[string]string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	headers := make(map[string]string)
	fields := mr.Header.Fields()
	for fields.Next() {
		key := fields.Key()
		if _, ok := headers[key]; ok {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers[key] = value
	}
	return headers, nil
}
