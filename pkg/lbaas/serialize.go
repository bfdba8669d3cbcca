package lbaas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCanonical serializes v (a *ServiceSpec or *State) as canonical
// JSON: every object's keys are emitted in sorted order, so the same value
// produces byte-identical output on every call. It does so by encoding v,
// decoding the result into generic maps (numbers kept verbatim), and
// re-encoding those maps, whose keys encoding/json always sorts.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalServiceSpec decodes a ServiceSpec and rejects unknown major
// schema versions.
func UnmarshalServiceSpec(data []byte) (*ServiceSpec, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var spec ServiceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("lbaas: decoding ServiceSpec: %w", err)
	}
	if spec.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("lbaas: ServiceSpec schema_version %d is newer than supported version %d", spec.SchemaVersion, SchemaVersion)
	}
	return &spec, nil
}

// UnmarshalState decodes a State and rejects unknown major schema versions.
func UnmarshalState(data []byte) (*State, error) {
	if len(data) == 0 || string(data) == "null" {
		return NewEmptyState(), nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("lbaas: decoding State: %w", err)
	}
	if state.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("lbaas: State schema_version %d is newer than supported version %d", state.SchemaVersion, SchemaVersion)
	}
	return &state, nil
}
