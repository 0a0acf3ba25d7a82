package pipeline

import "fmt"

// Field names a value carried between stages. The set is closed: every field
// a stage may read or produce is declared here.
type Field string

const (
	FieldUserID     Field = "user_id"
	FieldPrompt     Field = "prompt"
	FieldRunID      Field = "run_id"
	FieldTimestamp  Field = "timestamp"
	FieldCompletion Field = "completion"
	FieldText       Field = "text"
	FieldAudioRef   Field = "audio_ref"
	FieldAudioURL   Field = "audio_url"
)

var knownFields = map[Field]struct{}{
	FieldUserID:     {},
	FieldPrompt:     {},
	FieldRunID:      {},
	FieldTimestamp:  {},
	FieldCompletion: {},
	FieldText:       {},
	FieldAudioRef:   {},
	FieldAudioURL:   {},
}

// inputFields are the fields present before the first stage runs.
var inputFields = []Field{FieldUserID, FieldPrompt, FieldRunID}

// Known reports whether f is a declared field.
func (f Field) Known() bool {
	_, ok := knownFields[f]
	return ok
}

// Payload is the set of field values handed to or returned from a stage.
type Payload map[Field]string

// Get returns the value of f.
func (p Payload) Get(f Field) string {
	return p[f]
}

// Require returns the value of f or an error when it is missing or empty.
func (p Payload) Require(f Field) (string, error) {
	v, ok := p[f]
	if !ok || v == "" {
		return "", fmt.Errorf("missing field %q", f)
	}
	return v, nil
}

// Select returns a copy of p restricted to fields.
func (p Payload) Select(fields []Field) Payload {
	out := make(Payload, len(fields))
	for _, f := range fields {
		if v, ok := p[f]; ok {
			out[f] = v
		}
	}
	return out
}
