package classifier

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// Encode writes the model with encoding/gob.
func (m *Model) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	return enc.Encode(m)
}

// Decode reads a model written by Encode.
func (m *Model) Decode(r io.Reader) error {
	dec := gob.NewDecoder(r)
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if len(m.Trees) == 0 || len(m.Schema) == 0 {
		return fmt.Errorf("decode model: empty model")
	}
	return nil
}

// Bytes returns the gob encoding of m.
func (m *Model) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
