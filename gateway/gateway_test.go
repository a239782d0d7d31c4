package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/msgpipe"
	"github.com/wippyai/pipebind/schema"
)

var shapeType = &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
	{Name: "radius", Type: wit.U32{}},
	{Name: "label", Type: wit.String{}},
}}}

var methods = []schema.Method{
	{Name: "add", Params: []schema.Param{{Name: "a", Type: wit.S32{}}, {Name: "b", Type: wit.S32{}}}, Result: wit.S32{}},
	{Name: "upper", Params: []schema.Param{{Name: "s", Type: wit.String{}}}, Result: wit.String{}},
	{Name: "log", Params: []schema.Param{{Name: "line", Type: wit.String{}}}, OneWay: true},
	{Name: "stall", Result: wit.U8{}},
	{Name: "grow", Params: []schema.Param{{Name: "shape", Type: shapeType}}, Result: shapeType},
}

func newGateway(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	iface, err := schema.NewBuilder().Interface("Demo", methods)
	if err != nil {
		t.Fatal(err)
	}

	sys := msgpipe.NewSystem()
	t.Cleanup(func() { sys.Close() })
	h0, h1, err := sys.CreateMessagePipe()
	if err != nil {
		t.Fatal(err)
	}
	p0, _ := sys.Pipe(h0)
	p1, _ := sys.Pipe(h1)

	receiver := bindings.NewReceiver()
	err = iface.Serve(receiver, map[string]bindings.Handler{
		"add": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			return map[string]any{schema.ResultField: args[0].(int32) + args[1].(int32)}, nil
		}),
		"upper": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			return map[string]any{schema.ResultField: string(bytes.ToUpper([]byte(args[0].(string))))}, nil
		}),
		"log": bindings.HandlerFunc(func(context.Context, []any) (map[string]any, error) {
			return nil, nil
		}),
		"stall": bindings.AsyncHandlerFunc(func(context.Context, []any) *bindings.Future {
			return bindings.NewFuture()
		}),
		"grow": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			shape := args[0].(codec.Union)
			if r, ok := shape.Value.(uint32); ok {
				shape.Value = r * 2
			}
			return map[string]any{schema.ResultField: shape}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	remote := bindings.NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}

	handler, err := New(iface, remote, opts...)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, url, method string, args, reply any) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

func TestCall(t *testing.T) {
	srv := newGateway(t)

	tests := []struct {
		method string
		args   []any
		want   any
	}{
		{"add", []any{40, 2}, float64(42)},
		{"upper", []any{"hi"}, "HI"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			var reply CallReply
			if err := call(t, srv.URL, "Interface.Call", &CallArgs{Method: tt.method, Args: tt.args}, &reply); err != nil {
				t.Fatalf("call: %v", err)
			}
			if got := reply.Result[schema.ResultField]; got != tt.want {
				t.Errorf("result = %v (%T), want %v", got, got, tt.want)
			}
		})
	}

	var reply CallReply
	if err := call(t, srv.URL, "Interface.Call", &CallArgs{Method: "log", Args: []any{"x"}}, &reply); err != nil {
		t.Fatalf("one-way call: %v", err)
	}
	if reply.Result != nil {
		t.Errorf("one-way result = %v", reply.Result)
	}
}

func TestCallVariant(t *testing.T) {
	srv := newGateway(t)

	tests := []struct {
		name    string
		arg     any
		want    any
		wantErr bool
	}{
		{"number case", map[string]any{"radius": 21}, map[string]any{"radius": float64(42)}, false},
		{"string case", map[string]any{"label": "dot"}, map[string]any{"label": "dot"}, false},
		{"unknown case", map[string]any{"side": 1}, nil, true},
		{"two keys", map[string]any{"radius": 1, "label": "x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply CallReply
			err := call(t, srv.URL, "Interface.Call", &CallArgs{Method: "grow", Args: []any{tt.arg}}, &reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("call: %v, wantErr %v", err, tt.wantErr)
			}
			if got := reply.Result[schema.ResultField]; !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCallErrors(t *testing.T) {
	srv := newGateway(t, WithTimeout(100*time.Millisecond))

	tests := []struct {
		name string
		args CallArgs
		code json2.ErrorCode
	}{
		{"unknown method", CallArgs{Method: "nope"}, json2.E_BAD_PARAMS},
		{"bad argument", CallArgs{Method: "add", Args: []any{"x", 1}}, json2.E_SERVER},
		{"timeout", CallArgs{Method: "stall"}, json2.E_SERVER},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply CallReply
			err := call(t, srv.URL, "Interface.Call", &tt.args, &reply)
			jerr, ok := err.(*json2.Error)
			if !ok {
				t.Fatalf("error = %v (%T), want *json2.Error", err, err)
			}
			if jerr.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", jerr.Code, tt.code, jerr.Message)
			}
		})
	}
}

func TestMethods(t *testing.T) {
	srv := newGateway(t)
	var reply MethodsReply
	if err := call(t, srv.URL, "Interface.Methods", &MethodsArgs{}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Interface != "Demo" || len(reply.Methods) != len(methods) {
		t.Fatalf("reply = %+v", reply)
	}
	add := reply.Methods[0]
	if add.Name != "add" || len(add.Args) != 2 || add.Args[1] != "b" || add.OneWay {
		t.Errorf("add = %+v", add)
	}
	if !reply.Methods[2].OneWay {
		t.Error("log should be one-way")
	}
}
