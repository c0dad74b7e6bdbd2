package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"
)

// Shape is the top-level layout of a corpus file
type Shape int

const (
	// ShapeArray is a JSON array of records, each with an id
	ShapeArray Shape = iota
	// ShapeObject is a JSON object mapping id to record
	ShapeObject
)

// Document is a decoded corpus file
type Document struct {
	Shape   Shape
	Records []*Record
}

// Stats counts records by outcome
type Stats struct {
	Total      int
	Translated int
	Failed     int
	Pending    int
}

// Decode validates and decodes corpus JSON
func Decode(data []byte) (*Document, error) {
	if err := Validate(data); err != nil {
		return nil, &InputError{Err: err}
	}

	doc := &Document{}
	trimmed := bytes.TrimSpace(data)

	if trimmed[0] == '[' {
		doc.Shape = ShapeArray
		if err := json.Unmarshal(trimmed, &doc.Records); err != nil {
			return nil, &InputError{Err: err}
		}
	} else {
		// Object keys are walked in file order so output keeps it.
		doc.Shape = ShapeObject
		var decodeErr error
		gjson.ParseBytes(trimmed).ForEach(func(key, value gjson.Result) bool {
			rec := &Record{}
			if err := json.Unmarshal([]byte(value.Raw), rec); err != nil {
				decodeErr = fmt.Errorf("record %q: %w", key.String(), err)
				return false
			}
			rec.objectKey = key.String()
			if rec.ID.IsZero() {
				rec.ID = StringID(key.String())
				rec.implicitID = true
			}
			doc.Records = append(doc.Records, rec)
			return true
		})
		if decodeErr != nil {
			return nil, &InputError{Err: decodeErr}
		}
	}

	seen := make(map[string]bool, len(doc.Records))
	for _, rec := range doc.Records {
		key := rec.Key()
		if seen[key] {
			return nil, &InputError{Err: fmt.Errorf("duplicate record key %q", key)}
		}
		seen[key] = true
	}

	return doc, nil
}

// ReadFile reads and decodes a corpus file
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InputError{Path: path, Err: err}
	}

	doc, err := Decode(data)
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			inputErr.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Encode renders the document in its original shape
func (d *Document) Encode() ([]byte, error) {
	if d.Shape == ShapeArray {
		records := d.Records
		if records == nil {
			records = []*Record{}
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, rec := range d.Records {
		if i > 0 {
			buf.WriteString(",")
		}
		key := rec.objectKey
		if key == "" {
			key = rec.ID.String()
		}
		buf.WriteString("\n  ")
		buf.WriteString(strconv.Quote(key))
		buf.WriteString(": ")

		data, err := json.MarshalIndent(rec, "  ", "  ")
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.Key(), err)
		}
		buf.Write(data)
	}
	if len(d.Records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// WriteFile writes the document atomically to path
func (d *Document) WriteFile(path string) error {
	data, err := d.Encode()
	if err != nil {
		return &OutputError{Path: path, Err: err}
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return &OutputError{Path: path, Err: err}
	}
	return nil
}

// Clone deep-copies the document
func (d *Document) Clone() *Document {
	c := &Document{Shape: d.Shape, Records: make([]*Record, len(d.Records))}
	for i, rec := range d.Records {
		c.Records[i] = rec.Clone()
	}
	return c
}

// Stats counts translated, failed and pending records
func (d *Document) Stats() Stats {
	s := Stats{Total: len(d.Records)}
	for _, rec := range d.Records {
		switch {
		case rec.Translated():
			s.Translated++
		case rec.Error != "":
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
