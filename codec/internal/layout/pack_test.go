package layout

import (
	"reflect"
	"testing"
)

func TestPack(t *testing.T) {
	tests := []struct {
		name     string
		fields   []Field
		places   []Placement
		versions []Version
	}{
		{
			name:     "empty",
			fields:   nil,
			places:   []Placement{},
			versions: []Version{{0, 8}},
		},
		{
			name: "u32 then pointer",
			fields: []Field{
				{Size: 4, Align: 4},
				{Size: 8, Align: 8},
			},
			places:   []Placement{{Offset: 0}, {Offset: 8}},
			versions: []Version{{0, 24}},
		},
		{
			name: "hole filling",
			fields: []Field{
				{Size: 1, Align: 1},
				{Size: 8, Align: 8},
				{Size: 4, Align: 4},
				{Size: 2, Align: 2},
			},
			places:   []Placement{{Offset: 0}, {Offset: 8}, {Offset: 4}, {Offset: 2}},
			versions: []Version{{0, 24}},
		},
		{
			name: "bools share a byte",
			fields: []Field{
				{IsBool: true},
				{Size: 4, Align: 4},
				{IsBool: true},
				{IsBool: true},
			},
			places:   []Placement{{Offset: 0, Bit: 0}, {Offset: 4}, {Offset: 0, Bit: 1}, {Offset: 0, Bit: 2}},
			versions: []Version{{0, 16}},
		},
		{
			name: "ninth bool opens a new byte",
			fields: []Field{
				{IsBool: true}, {IsBool: true}, {IsBool: true}, {IsBool: true},
				{IsBool: true}, {IsBool: true}, {IsBool: true}, {IsBool: true},
				{IsBool: true},
			},
			places: []Placement{
				{0, 0}, {0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5}, {0, 6}, {0, 7},
				{1, 0},
			},
			versions: []Version{{0, 16}},
		},
		{
			name: "versioned fields",
			fields: []Field{
				{Size: 4, Align: 4},
				{Size: 8, Align: 8, MinVersion: 1},
				{Size: 4, Align: 4, MinVersion: 2},
			},
			places:   []Placement{{Offset: 0}, {Offset: 8}, {Offset: 4}},
			versions: []Version{{0, 16}, {1, 24}, {2, 24}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			places, versions := Pack(tt.fields)
			if !reflect.DeepEqual(places, tt.places) {
				t.Errorf("places = %v, want %v", places, tt.places)
			}
			if !reflect.DeepEqual(versions, tt.versions) {
				t.Errorf("versions = %v, want %v", versions, tt.versions)
			}
		})
	}
}
