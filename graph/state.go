package graph

import (
	"fmt"
	"reflect"
	"sort"
)

// State is the shared data that flows through the graph. Nodes receive a
// snapshot and return partial updates; they never mutate shared state
// directly.
type State map[string]any

// Clone creates a copy of the state. Map and slice values are copied one
// level deep so that a node mutating a snapshot cannot leak writes into the
// committed state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = copyValue(v)
	}
	return clone
}

// copyValue copies common container values. Scalars and unknown types are
// shared; reducers are required to treat their inputs as immutable.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, vv := range val {
			m[k] = copyValue(vv)
		}
		return m
	case []any:
		sl := make([]any, len(val))
		copy(sl, val)
		return sl
	case []string:
		sl := make([]string, len(val))
		copy(sl, val)
		return sl
	default:
		return v
	}
}

// Reducer merges an incoming write into an existing field value. Reducers
// must be pure, and associative when a field can receive concurrent writes;
// the engine does not verify this.
type Reducer func(existing, update any) any

// StateField defines a field in the state schema.
type StateField struct {
	Type     reflect.Type
	Reducer  Reducer
	Default  func() any
	Required bool
}

// StateSchema is the fixed set of fields a graph's state may hold, with the
// reducer applied when a field is written. The schema is part of the
// compiled plan; it never changes at run time.
type StateSchema struct {
	Fields map[string]StateField
}

// NewStateSchema creates an empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField adds a field to the schema. A nil reducer defaults to replace.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	if field.Reducer == nil {
		field.Reducer = ReplaceReducer
	}
	s.Fields[name] = field
	return s
}

// NodeUpdate is one node's partial state update, tagged with the writer so
// that merge order is deterministic.
type NodeUpdate struct {
	NodeID string
	Update State
}

// ApplyUpdates merges a superstep's updates into the current state as a
// single batch and returns the new state along with the delta (the merged
// values of every field written this step).
//
// Updates are applied in lexicographic node-ID order. For fields without a
// registered reducer this means the lexicographically greatest writer wins;
// the order never depends on goroutine scheduling.
func (s *StateSchema) ApplyUpdates(current State, updates []NodeUpdate) (State, State) {
	sorted := make([]NodeUpdate, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeID < sorted[j].NodeID })

	result := current.Clone()
	delta := make(State)
	for _, nu := range sorted {
		for key, value := range nu.Update {
			field, ok := s.Fields[key]
			if !ok {
				result[key] = value
				delta[key] = value
				continue
			}
			existing, has := result[key]
			if !has && field.Default != nil {
				existing = field.Default()
			}
			merged := field.Reducer(existing, value)
			result[key] = merged
			delta[key] = merged
		}
	}
	return result, delta
}

// ApplyDefaults fills in defaults for absent fields. Called once when a run
// starts so nodes can rely on declared fields being present.
func (s *StateSchema) ApplyDefaults(state State) State {
	result := state.Clone()
	for name, field := range s.Fields {
		if _, ok := result[name]; !ok && field.Default != nil {
			result[name] = field.Default()
		}
	}
	return result
}

// Validate checks a state value against the schema.
func (s *StateSchema) Validate(state State) error {
	for name, field := range s.Fields {
		value, exists := state[name]
		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}
		if exists && value != nil && field.Type != nil {
			valueType := reflect.TypeOf(value)
			if !valueType.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v",
					name, field.Type, valueType)
			}
		}
	}
	return nil
}

// Built-in reducers.

// ReplaceReducer overwrites the existing value with the update. This is the
// default for fields registered without a reducer.
func ReplaceReducer(existing, update any) any {
	return update
}

// AppendReducer appends update to an existing []any slice.
func AppendReducer(existing, update any) any {
	if existing == nil {
		existing = []any{}
	}
	existingSlice, ok1 := existing.([]any)
	updateSlice, ok2 := update.([]any)
	if !ok1 || !ok2 {
		return update
	}
	merged := make([]any, 0, len(existingSlice)+len(updateSlice))
	merged = append(merged, existingSlice...)
	return append(merged, updateSlice...)
}

// StringSliceReducer appends string slices.
func StringSliceReducer(existing, update any) any {
	if existing == nil {
		existing = []string{}
	}
	existingSlice, ok1 := existing.([]string)
	updateSlice, ok2 := update.([]string)
	if !ok1 || !ok2 {
		return update
	}
	merged := make([]string, 0, len(existingSlice)+len(updateSlice))
	merged = append(merged, existingSlice...)
	return append(merged, updateSlice...)
}

// MergeReducer merges an update map into an existing map.
func MergeReducer(existing, update any) any {
	if existing == nil {
		existing = make(map[string]any)
	}
	existingMap, ok1 := existing.(map[string]any)
	updateMap, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		return update
	}
	result := make(map[string]any, len(existingMap)+len(updateMap))
	for k, v := range existingMap {
		result[k] = v
	}
	for k, v := range updateMap {
		result[k] = v
	}
	return result
}

// SumReducer adds numeric updates to the existing value. Int and float
// inputs are supported; mixed inputs are summed as float64.
func SumReducer(existing, update any) any {
	ef, eok := toFloat(existing)
	uf, uok := toFloat(update)
	if !uok {
		return update
	}
	if !eok {
		return update
	}
	if ei, ok1 := toInt(existing); ok1 {
		if ui, ok2 := toInt(update); ok2 {
			return ei + ui
		}
	}
	return ef + uf
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
