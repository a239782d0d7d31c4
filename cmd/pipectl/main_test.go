package main

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/pipebind/schema"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"1,2", []string{"1", "2"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{"[1,2,3]", []string{"[1,2,3]"}},
		{`x,{"a":1,"b":[2,3]},y`, []string{"x", `{"a":1,"b":[2,3]}`, "y"}},
	}
	for _, tt := range tests {
		if got := splitArgs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvertArg(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		typ     wit.Type
		want    any
		wantErr bool
	}{
		{"string", "hi", wit.String{}, "hi", false},
		{"s32", "-7", wit.S32{}, int64(-7), false},
		{"s8 overflow", "200", wit.S8{}, nil, true},
		{"u16 hex", "0x10", wit.U16{}, uint64(16), false},
		{"bool", "true", wit.Bool{}, true, false},
		{"f64", "1.5", wit.F64{}, 1.5, false},
		{"char", "é", wit.Char{}, uint32('é'), false},
		{"char too long", "ab", wit.Char{}, nil, true},
		{"option none", "", titleType, nil, false},
		{"option some", "Dr", titleType, "Dr", false},
		{"enum", "upper", caseType, int32(1), false},
		{"enum unknown", "camel", caseType, nil, true},
		{"list", "[3,1]", integersType, []any{float64(3), float64(1)}, false},
		{"list bad json", "[3,", integersType, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertArg(tt.value, tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	if _, err := parseArgs("nope", nil); err == nil {
		t.Error("unknown method accepted")
	}
	if _, err := parseArgs("add", []string{"1"}); err == nil {
		t.Error("missing argument accepted")
	}
	if _, err := parseArgs("add", []string{"1", "2", "3"}); err == nil {
		t.Error("extra argument accepted")
	}
	args, err := parseArgs("greet", []string{"Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(args, []any{"Ada", nil}) {
		t.Errorf("greet args = %#v", args)
	}
}

func TestWitTypeStr(t *testing.T) {
	tests := []struct {
		typ  wit.Type
		want string
	}{
		{wit.U64{}, "u64"},
		{statsType, "stats"},
		{titleType, "option<string>"},
		{numbersType, "list<f64>"},
	}
	for _, tt := range tests {
		if got := witTypeStr(tt.typ); got != tt.want {
			t.Errorf("witTypeStr = %q, want %q", got, tt.want)
		}
	}
}

func TestDemoInProcess(t *testing.T) {
	iface, err := newDemoInterface()
	if err != nil {
		t.Fatal(err)
	}
	remote, closeFn, err := connect(context.Background(), "", iface, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	tests := []struct {
		method string
		args   []string
		want   any
	}{
		{"add", []string{"40", "2"}, int32(42)},
		{"echo", []string{"ping"}, "ping"},
		{"greet", []string{"Ada"}, "hello, Ada"},
		{"greet", []string{"Ada", "Dr"}, "hello, Dr Ada"},
		{"convert", []string{"hello world", "title"}, "Hello World"},
		{"convert", []string{"MiXed", "lower"}, "mixed"},
		{"reverse", []string{"[1,2,3]"}, []any{int32(3), int32(2), int32(1)}},
		{"stats", []string{"[1,2,6]"}, map[string]any{
			"count": uint32(3), "mean": 3.0, "min": 1.0, "max": 6.0,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			args, err := parseArgs(tt.method, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := iface.Call(remote, tt.method, args).Wait(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got := out[schema.ResultField]; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %#v, want %#v", tt.method, got, tt.want)
			}
		})
	}

	if _, err := iface.Call(remote, "log", []any{"line"}).Wait(context.Background()); err != nil {
		t.Errorf("log: %v", err)
	}
	v, err := remote.QueryVersion(context.Background())
	if err != nil || v != 0 {
		t.Errorf("QueryVersion = %d, %v", v, err)
	}
}

func TestFormatValue(t *testing.T) {
	got := formatValue(map[string]any{"b": []any{int32(1), nil}, "a": "x"})
	if want := `{a: "x", b: [1, none]}`; got != want {
		t.Errorf("formatValue = %s, want %s", got, want)
	}
}
