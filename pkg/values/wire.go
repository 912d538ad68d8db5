// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package values

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Envelope is the wire form of one value: its type encoding plus a payload
// shaped by that type. Deserialize(Serialize(v)) == v for every well-typed
// value.
type Envelope struct {
	Type  Type            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Serialize converts a value to its wire envelope.
func Serialize(v Value) (Envelope, error) {
	payload, err := json.Marshal(encodePayload(v))
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: v.Type(), Value: payload}, nil
}

// Deserialize reconstructs a value from its wire envelope. Path existence is
// NOT validated here; the consuming component checks when it requires a
// readable file.
func Deserialize(env Envelope) (Value, error) {
	var payload any
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, &payload); err != nil {
			return nil, fmt.Errorf("malformed value payload: %w", err)
		}
	}
	return decodePayload(env.Type, payload)
}

// SerializeBindings converts bindings to the wire object keyed by
// identifier.
func SerializeBindings(b *Bindings) (map[string]Envelope, error) {
	out := make(map[string]Envelope, b.Len())
	for _, name := range b.Names() {
		v, _ := b.Resolve(name)
		env, err := Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", name, err)
		}
		out[name] = env
	}
	return out, nil
}

// DeserializeBindings reconstructs bindings from the wire object. JSON
// objects carry no order, so names are bound alphabetically; callers that
// need declaration order re-bind against their declaration list.
func DeserializeBindings(wire map[string]Envelope) (*Bindings, error) {
	names := make([]string, 0, len(wire))
	for name := range wire {
		names = append(names, name)
	}
	sort.Strings(names)

	b := NewBindings()
	for _, name := range names {
		v, err := Deserialize(wire[name])
		if err != nil {
			return nil, fmt.Errorf("deserializing %s: %w", name, err)
		}
		b.Bind(name, v)
	}
	return b, nil
}

// encodePayload produces the JSON-shaped payload for a value. Map entries
// encode as [key, value] pairs to preserve order and non-string keys.
func encodePayload(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case Boolean:
		return val.Val
	case Int:
		return val.Val
	case Float:
		return val.Val
	case String:
		return val.Val
	case File:
		return val.Path
	case Directory:
		return val.Path
	case Array:
		items := make([]any, len(val.Items))
		for i, item := range val.Items {
			items[i] = encodePayload(item)
		}
		return items
	case Map:
		entries := make([]any, len(val.Entries))
		for i, e := range val.Entries {
			entries[i] = []any{encodePayload(e.Key), encodePayload(e.Value)}
		}
		return entries
	case Pair:
		return map[string]any{
			"left":  encodePayload(val.LeftVal),
			"right": encodePayload(val.RightVal),
		}
	case Struct:
		fields := make(map[string]any, len(val.Fields))
		for _, f := range val.Fields {
			fields[f.Name] = encodePayload(f.Value)
		}
		return fields
	}
	return nil
}

// decodePayload rebuilds a value of type t from decoded JSON data.
func decodePayload(t Type, payload any) (Value, error) {
	if payload == nil {
		if !t.IsOptional() {
			return nil, fmt.Errorf("null payload for non-optional type %s", t)
		}
		return Null{Declared: t}, nil
	}
	inner := t.Unwrap()

	switch inner.Kind {
	case KindBoolean, KindInt, KindFloat, KindString, KindFile, KindDirectory:
		return FromNative(inner, payload)
	case KindArray:
		items, ok := payload.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array payload for %s, got %T", t, payload)
		}
		out := Array{Item: *inner.Item}
		if len(items) > 0 {
			out.Items = make([]Value, len(items))
		}
		for i, item := range items {
			v, err := decodePayload(*inner.Item, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Items[i] = v
		}
		return out, nil
	case KindMap:
		entries, ok := payload.([]any)
		if !ok {
			return nil, fmt.Errorf("expected entry-list payload for %s, got %T", t, payload)
		}
		out := Map{Key: *inner.Key, Value: *inner.Value}
		for i, raw := range entries {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("entry %d: expected [key, value] pair", i)
			}
			k, err := decodePayload(*inner.Key, pair[0])
			if err != nil {
				return nil, fmt.Errorf("entry %d key: %w", i, err)
			}
			v, err := decodePayload(*inner.Value, pair[1])
			if err != nil {
				return nil, fmt.Errorf("entry %d value: %w", i, err)
			}
			out.Entries = append(out.Entries, MapEntry{Key: k, Value: v})
		}
		return out, nil
	case KindPair:
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected pair payload for %s, got %T", t, payload)
		}
		left, err := decodePayload(*inner.Left, m["left"])
		if err != nil {
			return nil, fmt.Errorf("pair left: %w", err)
		}
		right, err := decodePayload(*inner.Right, m["right"])
		if err != nil {
			return nil, fmt.Errorf("pair right: %w", err)
		}
		return Pair{LeftVal: left, RightVal: right}, nil
	case KindStruct:
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected struct payload for %s, got %T", t, payload)
		}
		out := Struct{Name: inner.Name, Fields: make([]StructField, len(inner.Members))}
		for i, member := range inner.Members {
			fv, err := decodePayload(member.Type, m[member.Name])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", member.Name, err)
			}
			out.Fields[i] = StructField{Name: member.Name, Value: fv}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot decode payload of type %s", t)
}
