package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared validator so record packages can register
// their own rules.
func Validator() *validator.Validate {
	return validate
}

// Decode converts a document into a record and validates it. Malformed or
// invalid documents are rejected with ErrInvalidDocument.
func Decode(doc Document, out any) error {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return invalid(doc.Collection, doc.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalid(doc.Collection, doc.ID, err)
	}
	if err := validate.Struct(out); err != nil {
		return invalid(doc.Collection, doc.ID, err)
	}
	return nil
}

// Encode validates a record and converts it into document fields.
func Encode(collection, id string, record any) (Fields, error) {
	if err := validate.Struct(record); err != nil {
		return nil, invalid(collection, id, err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, invalid(collection, id, err)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalid(collection, id, err)
	}
	return fields, nil
}

// Normalize round-trips fields through JSON so that every store hands back the
// same value shapes (float64 numbers, RFC 3339 times, nested maps).
func Normalize(fields Fields) (Fields, error) {
	if len(fields) == 0 {
		return Fields{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("docstore: normalize fields: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docstore: normalize fields: %w", err)
	}
	return out, nil
}
