package leaf

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// AnswerEntry is the serialized form of an answer.
type AnswerEntry struct {
	Step   int               `json:"step"`
	Values []AssignmentEntry `json:"values"`
}

// AssignmentEntry is a value assigned to a symbolic variable.
type AssignmentEntry struct {
	ID    uint32 `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Bits  string `json:"bits"`
}

// NewAnswerEntry returns the serialized form of an answer.
func NewAnswerEntry(a Answer) AnswerEntry {
	e := AnswerEntry{Step: a.Step, Values: make([]AssignmentEntry, 0, len(a.Model))}
	for _, id := range a.Model.IDs() {
		c := a.Model[id]
		e.Values = append(e.Values, AssignmentEntry{
			ID:    id,
			Type:  c.Type.String(),
			Value: c.String(),
			Bits:  c.Bits.Hex(),
		})
	}
	return e
}

// AppendFile opens path for appending, creating it and its directory if
// they do not exist, and passes it to fn.
func AppendFile(path string, fn func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return errors.Wrap(err, "open output")
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// WriteJSONLines writes each value as a line of JSON.
func WriteJSONLines(w io.Writer, values ...interface{}) error {
	enc := json.NewEncoder(w)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "encode")
		}
	}
	return nil
}

// WriteAnswers appends answers to the file at path.
func WriteAnswers(path string, answers []Answer) error {
	return AppendFile(path, func(w io.Writer) error {
		for _, a := range answers {
			if err := WriteJSONLines(w, NewAnswerEntry(a)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTrace appends trace records to the file at path.
func WriteTrace(path string, records []TraceRecord) error {
	return AppendFile(path, func(w io.Writer) error {
		for _, r := range records {
			if err := WriteJSONLines(w, NewTraceEntry(r.Step, r.Constraints)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTypes appends the layouts registered in types to the file at path.
func WriteTypes(path string, types *TypeManager) error {
	return AppendFile(path, types.Write)
}
