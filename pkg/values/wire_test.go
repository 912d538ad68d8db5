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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"boolean", Boolean{Val: true}},
		{"int", Int{Val: 42}},
		{"negative int", Int{Val: -7}},
		{"float", Float{Val: 3.25}},
		{"string", String{Val: "hello"}},
		{"empty string", String{Val: ""}},
		{"file", File{Path: "/data/reads.fastq"}},
		{"directory", Directory{Path: "/data/ref"}},
		{"null", Null{Declared: OptionalType(IntType)}},
		{
			"array of files",
			Array{Item: FileType, Items: []Value{File{Path: "/a"}, File{Path: "/b"}}},
		},
		{
			"empty array",
			Array{Item: StringType, Items: nil},
		},
		{
			"nested array",
			Array{Item: ArrayType(IntType), Items: []Value{
				Array{Item: IntType, Items: []Value{Int{Val: 1}, Int{Val: 2}}},
				Array{Item: IntType, Items: []Value{Int{Val: 3}}},
			}},
		},
		{
			"map with int keys",
			Map{Key: IntType, Value: StringType, Entries: []MapEntry{
				{Key: Int{Val: 2}, Value: String{Val: "two"}},
				{Key: Int{Val: 1}, Value: String{Val: "one"}},
			}},
		},
		{
			"pair",
			Pair{LeftVal: Int{Val: 1}, RightVal: String{Val: "x"}},
		},
		{
			"struct",
			Struct{Name: "Sample", Fields: []StructField{
				{Name: "id", Value: String{Val: "s1"}},
				{Name: "bam", Value: File{Path: "/data/s1.bam"}},
				{Name: "depth", Value: Int{Val: 30}},
			}},
		},
		{
			"array with nulls",
			Array{Item: OptionalType(StringType), Items: []Value{
				String{Val: "present"},
				Null{Declared: OptionalType(StringType)},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Serialize(tt.value)
			require.NoError(t, err)

			// The envelope must survive a trip through encoding/json.
			data, err := json.Marshal(env)
			require.NoError(t, err)
			var decoded Envelope
			require.NoError(t, json.Unmarshal(data, &decoded))

			got, err := Deserialize(decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.True(t, got.Type().Equal(tt.value.Type()), "type not preserved: %s vs %s", got.Type(), tt.value.Type())
		})
	}
}

func TestDeserializeRejectsNullForRequired(t *testing.T) {
	env := Envelope{Type: IntType, Value: json.RawMessage("null")}
	_, err := Deserialize(env)
	assert.Error(t, err)
}

func TestDeserializeRejectsWrongShape(t *testing.T) {
	env := Envelope{Type: ArrayType(IntType), Value: json.RawMessage(`"not an array"`)}
	_, err := Deserialize(env)
	assert.Error(t, err)
}

func TestSerializeBindingsRoundTrip(t *testing.T) {
	b := NewBindings().
		Bind("sample", String{Val: "s1"}).
		Bind("reads", File{Path: "/data/reads.fq"}).
		Bind("depth", Int{Val: 30})

	wire, err := SerializeBindings(b)
	require.NoError(t, err)

	data, err := json.Marshal(wire)
	require.NoError(t, err)
	var decodedWire map[string]Envelope
	require.NoError(t, json.Unmarshal(data, &decodedWire))

	got, err := DeserializeBindings(decodedWire)
	require.NoError(t, err)

	require.Equal(t, 3, got.Len())
	for _, name := range b.Names() {
		want, _ := b.Resolve(name)
		have, ok := got.Resolve(name)
		require.True(t, ok, "missing binding %s", name)
		assert.Equal(t, want, have)
	}
}

func TestFileSerializesAsPathString(t *testing.T) {
	env, err := Serialize(File{Path: "/abs/path.txt"})
	require.NoError(t, err)
	assert.JSONEq(t, `"/abs/path.txt"`, string(env.Value))
}
