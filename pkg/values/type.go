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

// Package values implements the typed value model shared by the engine and
// the task runner: primitive and compound values, ordered bindings, and the
// JSON wire form used by the task-runner protocol. Every value carries its
// static type so the receiving process can reconstruct it without consulting
// the task AST.
package values

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the type constructors of the workflow language.
type Kind string

const (
	KindBoolean   Kind = "Boolean"
	KindInt       Kind = "Int"
	KindFloat     Kind = "Float"
	KindString    Kind = "String"
	KindFile      Kind = "File"
	KindDirectory Kind = "Directory"
	KindArray     Kind = "Array"
	KindMap       Kind = "Map"
	KindPair      Kind = "Pair"
	KindStruct    Kind = "Struct"
	KindOptional  Kind = "Optional"
)

// Type is the static type of a value. Primitive types use Kind alone;
// compound types populate the relevant parameter fields.
type Type struct {
	Kind Kind

	// Item is the element type for Array and Optional
	Item *Type

	// Key and Value parameterize Map
	Key   *Type
	Value *Type

	// Left and Right parameterize Pair
	Left  *Type
	Right *Type

	// Name and Members describe Struct types
	Name    string
	Members []StructMember
}

// StructMember is one named, typed field of a struct type. Order is
// declaration order.
type StructMember struct {
	Name string
	Type Type
}

// Primitive type singletons.
var (
	BooleanType   = Type{Kind: KindBoolean}
	IntType       = Type{Kind: KindInt}
	FloatType     = Type{Kind: KindFloat}
	StringType    = Type{Kind: KindString}
	FileType      = Type{Kind: KindFile}
	DirectoryType = Type{Kind: KindDirectory}
)

// ArrayType returns Array[item].
func ArrayType(item Type) Type {
	return Type{Kind: KindArray, Item: &item}
}

// MapType returns Map[key, value].
func MapType(key, value Type) Type {
	return Type{Kind: KindMap, Key: &key, Value: &value}
}

// PairType returns Pair[left, right].
func PairType(left, right Type) Type {
	return Type{Kind: KindPair, Left: &left, Right: &right}
}

// StructType returns a named struct type with the given members.
func StructType(name string, members []StructMember) Type {
	return Type{Kind: KindStruct, Name: name, Members: members}
}

// OptionalType returns item?, collapsing double optionals.
func OptionalType(item Type) Type {
	if item.Kind == KindOptional {
		return item
	}
	return Type{Kind: KindOptional, Item: &item}
}

// IsOptional reports whether t admits Null.
func (t Type) IsOptional() bool {
	return t.Kind == KindOptional
}

// Unwrap strips one Optional layer, returning the inner type.
func (t Type) Unwrap() Type {
	if t.Kind == KindOptional {
		return *t.Item
	}
	return t
}

// Equal reports structural type equality.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindArray, KindOptional:
		return t.Item.Equal(*other.Item)
	case KindMap:
		return t.Key.Equal(*other.Key) && t.Value.Equal(*other.Value)
	case KindPair:
		return t.Left.Equal(*other.Left) && t.Right.Equal(*other.Right)
	case KindStruct:
		if t.Name != other.Name || len(t.Members) != len(other.Members) {
			return false
		}
		for i, m := range t.Members {
			if m.Name != other.Members[i].Name || !m.Type.Equal(other.Members[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the type in source notation, e.g. "Array[File]" or "Int?".
func (t Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("Array[%s]", t.Item)
	case KindMap:
		return fmt.Sprintf("Map[%s,%s]", t.Key, t.Value)
	case KindPair:
		return fmt.Sprintf("Pair[%s,%s]", t.Left, t.Right)
	case KindOptional:
		return t.Item.String() + "?"
	case KindStruct:
		return t.Name
	default:
		return string(t.Kind)
	}
}

// ParseType parses source notation into a Type. Struct types cannot be
// expressed in this notation; they arrive pre-declared via task definitions.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Type{}, fmt.Errorf("empty type")
	}

	if strings.HasSuffix(s, "?") {
		inner, err := ParseType(strings.TrimSuffix(s, "?"))
		if err != nil {
			return Type{}, err
		}
		return OptionalType(inner), nil
	}

	open := strings.IndexByte(s, '[')
	if open < 0 {
		switch Kind(s) {
		case KindBoolean, KindInt, KindFloat, KindString, KindFile, KindDirectory:
			return Type{Kind: Kind(s)}, nil
		}
		return Type{}, fmt.Errorf("unknown type %q", s)
	}

	if !strings.HasSuffix(s, "]") {
		return Type{}, fmt.Errorf("malformed type %q", s)
	}
	head, params := s[:open], s[open+1:len(s)-1]

	args, err := splitTypeParams(params)
	if err != nil {
		return Type{}, fmt.Errorf("malformed type %q: %w", s, err)
	}

	switch head {
	case "Array":
		if len(args) != 1 {
			return Type{}, fmt.Errorf("Array takes one parameter, got %d", len(args))
		}
		item, err := ParseType(args[0])
		if err != nil {
			return Type{}, err
		}
		return ArrayType(item), nil
	case "Map":
		if len(args) != 2 {
			return Type{}, fmt.Errorf("Map takes two parameters, got %d", len(args))
		}
		key, err := ParseType(args[0])
		if err != nil {
			return Type{}, err
		}
		value, err := ParseType(args[1])
		if err != nil {
			return Type{}, err
		}
		return MapType(key, value), nil
	case "Pair":
		if len(args) != 2 {
			return Type{}, fmt.Errorf("Pair takes two parameters, got %d", len(args))
		}
		left, err := ParseType(args[0])
		if err != nil {
			return Type{}, err
		}
		right, err := ParseType(args[1])
		if err != nil {
			return Type{}, err
		}
		return PairType(left, right), nil
	}
	return Type{}, fmt.Errorf("unknown type constructor %q", head)
}

// splitTypeParams splits "K,V" at top-level commas, respecting nesting.
func splitTypeParams(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	parts = append(parts, s[start:])
	return parts, nil
}

// typeWire is the JSON form of a compound type.
type typeWire struct {
	Kind    string           `json:"kind"`
	Item    *json.RawMessage `json:"item,omitempty"`
	Key     *json.RawMessage `json:"key,omitempty"`
	Value   *json.RawMessage `json:"value,omitempty"`
	Left    *json.RawMessage `json:"left,omitempty"`
	Right   *json.RawMessage `json:"right,omitempty"`
	Name    string           `json:"name,omitempty"`
	Members []memberWire     `json:"members,omitempty"`
}

type memberWire struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// MarshalJSON encodes primitives as bare strings and compound types as
// {"kind": ...} objects, per the wire schema.
func (t Type) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindBoolean, KindInt, KindFloat, KindString, KindFile, KindDirectory:
		return json.Marshal(string(t.Kind))
	}

	wire := typeWire{Kind: string(t.Kind), Name: t.Name}
	enc := func(t *Type) (*json.RawMessage, error) {
		if t == nil {
			return nil, nil
		}
		raw, err := json.Marshal(*t)
		if err != nil {
			return nil, err
		}
		msg := json.RawMessage(raw)
		return &msg, nil
	}

	var err error
	if wire.Item, err = enc(t.Item); err != nil {
		return nil, err
	}
	if wire.Key, err = enc(t.Key); err != nil {
		return nil, err
	}
	if wire.Value, err = enc(t.Value); err != nil {
		return nil, err
	}
	if wire.Left, err = enc(t.Left); err != nil {
		return nil, err
	}
	if wire.Right, err = enc(t.Right); err != nil {
		return nil, err
	}
	for _, m := range t.Members {
		raw, err := json.Marshal(m.Type)
		if err != nil {
			return nil, err
		}
		wire.Members = append(wire.Members, memberWire{Name: m.Name, Type: raw})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes both the bare-string primitive form and the
// {"kind": ...} compound form.
func (t *Type) UnmarshalJSON(data []byte) error {
	var prim string
	if err := json.Unmarshal(data, &prim); err == nil {
		switch Kind(prim) {
		case KindBoolean, KindInt, KindFloat, KindString, KindFile, KindDirectory:
			*t = Type{Kind: Kind(prim)}
			return nil
		}
		return fmt.Errorf("unknown primitive type %q", prim)
	}

	var wire typeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	dec := func(raw *json.RawMessage) (*Type, error) {
		if raw == nil {
			return nil, nil
		}
		var inner Type
		if err := json.Unmarshal(*raw, &inner); err != nil {
			return nil, err
		}
		return &inner, nil
	}

	out := Type{Kind: Kind(wire.Kind), Name: wire.Name}
	var err error
	if out.Item, err = dec(wire.Item); err != nil {
		return err
	}
	if out.Key, err = dec(wire.Key); err != nil {
		return err
	}
	if out.Value, err = dec(wire.Value); err != nil {
		return err
	}
	if out.Left, err = dec(wire.Left); err != nil {
		return err
	}
	if out.Right, err = dec(wire.Right); err != nil {
		return err
	}
	for _, m := range wire.Members {
		var mt Type
		if err := json.Unmarshal(m.Type, &mt); err != nil {
			return err
		}
		out.Members = append(out.Members, StructMember{Name: m.Name, Type: mt})
	}

	switch out.Kind {
	case KindArray, KindMap, KindPair, KindStruct, KindOptional:
		*t = out
		return nil
	}
	return fmt.Errorf("unknown type kind %q", wire.Kind)
}
