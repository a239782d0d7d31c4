package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/schema"
)

const demoInterface = "pipectl.Demo"

func named(name string, kind wit.TypeDefKind) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: kind}
}

var (
	statsType = named("stats", &wit.Record{Fields: []wit.Field{
		{Name: "count", Type: wit.U32{}},
		{Name: "mean", Type: wit.F64{}},
		{Name: "min", Type: wit.F64{}},
		{Name: "max", Type: wit.F64{}},
	}})
	caseType     = named("case", &wit.Enum{Cases: []wit.EnumCase{{Name: "lower"}, {Name: "upper"}, {Name: "title"}}})
	titleType    = &wit.TypeDef{Kind: &wit.Option{Type: wit.String{}}}
	numbersType  = &wit.TypeDef{Kind: &wit.List{Type: wit.F64{}}}
	integersType = &wit.TypeDef{Kind: &wit.List{Type: wit.S32{}}}
)

var demoMethods = []schema.Method{
	{Name: "add", Params: []schema.Param{{Name: "a", Type: wit.S32{}}, {Name: "b", Type: wit.S32{}}}, Result: wit.S32{}},
	{Name: "echo", Params: []schema.Param{{Name: "text", Type: wit.String{}}}, Result: wit.String{}},
	{Name: "greet", Params: []schema.Param{{Name: "name", Type: wit.String{}}, {Name: "title", Type: titleType}}, Result: wit.String{}},
	{Name: "convert", Params: []schema.Param{{Name: "text", Type: wit.String{}}, {Name: "to", Type: caseType}}, Result: wit.String{}},
	{Name: "reverse", Params: []schema.Param{{Name: "values", Type: integersType}}, Result: integersType},
	{Name: "stats", Params: []schema.Param{{Name: "values", Type: numbersType}}, Result: statsType},
	{Name: "log", Params: []schema.Param{{Name: "line", Type: wit.String{}}}, OneWay: true},
}

func newDemoInterface() (*schema.Interface, error) {
	return schema.NewBuilder().Interface(demoInterface, demoMethods)
}

func result(v any) (map[string]any, error) {
	return map[string]any{schema.ResultField: v}, nil
}

// demoHandlers implements the demo interface. log lines go to l.
func demoHandlers(l *zap.Logger) map[string]bindings.Handler {
	return map[string]bindings.Handler{
		"add": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			return result(args[0].(int32) + args[1].(int32))
		}),
		"echo": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			return result(args[0])
		}),
		"greet": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			name := args[0].(string)
			if title, ok := args[1].(string); ok && title != "" {
				name = title + " " + name
			}
			return result("hello, " + name)
		}),
		"convert": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			text := args[0].(string)
			switch args[1].(int32) {
			case 0:
				return result(strings.ToLower(text))
			case 1:
				return result(strings.ToUpper(text))
			default:
				words := strings.Fields(strings.ToLower(text))
				for i, w := range words {
					words[i] = strings.ToUpper(w[:1]) + w[1:]
				}
				return result(strings.Join(words, " "))
			}
		}),
		"reverse": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			in, _ := args[0].([]any)
			out := make([]any, len(in))
			for i, v := range in {
				out[len(in)-1-i] = v
			}
			return result(out)
		}),
		"stats": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			in, _ := args[0].([]any)
			s := map[string]any{"count": uint32(len(in)), "mean": 0.0, "min": 0.0, "max": 0.0}
			if len(in) == 0 {
				return result(s)
			}
			lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
			for i, v := range in {
				f, ok := v.(float64)
				if !ok {
					return nil, fmt.Errorf("values[%d]: expected f64, got %T", i, v)
				}
				lo, hi, sum = math.Min(lo, f), math.Max(hi, f), sum+f
			}
			s["mean"], s["min"], s["max"] = sum/float64(len(in)), lo, hi
			return result(s)
		}),
		"log": bindings.HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			l.Info("remote log", zap.String("line", args[0].(string)))
			return nil, nil
		}),
	}
}
