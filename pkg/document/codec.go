package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML `.idp` document. Decoding is strict: fields the
// format does not define are an error, not silently dropped, so a
// round-trip never loses data the producer thought it stored.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse document: empty input")
		}
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// Encode serializes the document to YAML. Empty collections are omitted,
// matching what Parse accepts.
func Encode(doc *Document) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Load reads and parses a document file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load document %q: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load document %q: %w", path, err)
	}
	return doc, nil
}

// Save encodes the document and writes it to path.
func Save(doc *Document, path string) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("save document %q: %w", path, err)
	}
	return nil
}
