package schema

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// Param is a named method parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Method declares one interface method. A nil Result with OneWay unset
// still produces an empty response, so callers can wait for completion.
type Method struct {
	Result wit.Type
	Name   string
	Params []Param
	OneWay bool
}

// MethodSpec is a method with its wire descriptors. Response is nil for
// one-way methods. A method result is carried in the "result" field.
type MethodSpec struct {
	Params   *codec.StructSpec
	Response *codec.StructSpec
	Name     string
	Ordinal  uint32
}

// Interface is a set of methods numbered by declaration order.
type Interface struct {
	byName  map[string]*MethodSpec
	Name    string
	Methods []*MethodSpec
}

// ResultField names the response field that holds a method result.
const ResultField = "result"

// Interface converts method declarations into an Interface.
func (b *Builder) Interface(name string, methods []Method) (*Interface, error) {
	iface := &Interface{
		Name:   name,
		byName: make(map[string]*MethodSpec, len(methods)),
	}
	for i, m := range methods {
		if _, dup := iface.byName[m.Name]; dup {
			return nil, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
				Path(name).Detail("duplicate method %q", m.Name).Build()
		}
		ms, err := b.method(name, uint32(i), m)
		if err != nil {
			return nil, err
		}
		iface.Methods = append(iface.Methods, ms)
		iface.byName[m.Name] = ms
	}
	return iface, nil
}

func (b *Builder) method(iface string, ordinal uint32, m Method) (*MethodSpec, error) {
	prefix := iface + "." + m.Name
	path := []string{iface, m.Name}

	defs := make([]codec.FieldDef, 0, len(m.Params))
	for _, p := range m.Params {
		def, err := b.field(prefix+"."+p.Name, p.Name, p.Type, child(path, p.Name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	params, err := codec.PackStruct(prefix+"_Params", defs)
	if err != nil {
		return nil, errors.WithPath(err, joinPath(path))
	}

	ms := &MethodSpec{Name: m.Name, Ordinal: ordinal, Params: params}
	if m.OneWay {
		if m.Result != nil {
			return nil, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
				Path(path...).Detail("one-way method cannot return a result").Build()
		}
		return ms, nil
	}

	var respDefs []codec.FieldDef
	if m.Result != nil {
		def, err := b.field(prefix+"."+ResultField, ResultField, m.Result, child(path, ResultField))
		if err != nil {
			return nil, err
		}
		respDefs = append(respDefs, def)
	}
	ms.Response, err = codec.PackStruct(prefix+"_ResponseParams", respDefs)
	if err != nil {
		return nil, errors.WithPath(err, joinPath(path))
	}
	return ms, nil
}

// Method returns the method called name.
func (i *Interface) Method(name string) (*MethodSpec, bool) {
	m, ok := i.byName[name]
	return m, ok
}
