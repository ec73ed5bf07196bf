package program

import (
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

// Marshal converts a Program into a JSON representation. Host
// functions (builtin bodies, class destructors) are recorded by name
// and kind only; Unmarshal rebinds them.
func Marshal(p *Program) ([]byte, error) {
	state, err := stateFromProgram(p)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(state, "", "  ")
}

// Unmarshal converts a JSON representation into a Program. Builtin
// functions come back unbound; use UnmarshalWithBuiltins to bind them,
// and Class.BindDestructor to restore destructors.
func Unmarshal(data []byte) (*Program, error) {
	return UnmarshalWithBuiltins(data, nil)
}

// UnmarshalWithBuiltins converts a JSON representation into a Program,
// binding builtin functions from the given map by name.
func UnmarshalWithBuiltins(data []byte, builtins map[string]object.BuiltinFunction) (*Program, error) {
	var state programDef
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return programFromState(&state, builtins)
}

// Serialization types

type constantDef struct {
	Type string `json:"type"`
}

type boolConstantDef struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type intConstantDef struct {
	Type  string `json:"type"`
	Value int64  `json:"value"`
}

type floatConstantDef struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type stringConstantDef struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type handlerDef struct {
	Kind   int `json:"kind"`
	Base   int `json:"base"`
	Past   int `json:"past"`
	Target int `json:"target"`
	Parent int `json:"parent"`
	Depth  int `json:"depth,omitempty"`
}

type callRegionDef struct {
	PrepOffset int `json:"prep_offset"`
	Base       int `json:"base"`
	Past       int `json:"past"`
}

type functionDef struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	ClassName     string            `json:"class_name,omitempty"`
	Kind          int               `json:"kind"`
	IsConstructor bool              `json:"is_constructor,omitempty"`
	ParamCount    int               `json:"param_count"`
	LocalCount    int               `json:"local_count"`
	Instructions  []op.Code         `json:"instructions"`
	Constants     []json.RawMessage `json:"constants,omitempty"`
	Names         []string          `json:"names,omitempty"`
	LocalNames    []string          `json:"local_names,omitempty"`
	Handlers      []handlerDef      `json:"handlers,omitempty"`
	CallRegions   []callRegionDef   `json:"call_regions,omitempty"`
}

type classDef struct {
	Name           string   `json:"name"`
	Parent         string   `json:"parent,omitempty"`
	OwnProperties  []string `json:"own_properties,omitempty"`
	HasConstructor bool     `json:"has_constructor,omitempty"`
	HasDestructor  bool     `json:"has_destructor,omitempty"`
	CtorIndex      int      `json:"ctor_index"`
}

type programDef struct {
	ID          string        `json:"id"`
	MainIndex   int           `json:"main_index"`
	Functions   []functionDef `json:"functions"`
	Classes     []classDef    `json:"classes,omitempty"`
	GlobalNames []string      `json:"global_names,omitempty"`
}

func stateFromProgram(p *Program) (*programDef, error) {
	state := &programDef{
		ID:        p.ID(),
		MainIndex: -1,
	}
	functions := make([]*Function, 0, p.FunctionCount()+1)
	index := make(map[*Function]int)
	for i := 0; i < p.FunctionCount(); i++ {
		fn := p.FunctionAt(i)
		functions = append(functions, fn)
		index[fn] = i
	}
	if p.Main() != nil {
		if i, ok := index[p.Main()]; ok {
			state.MainIndex = i
		} else {
			index[p.Main()] = len(functions)
			state.MainIndex = len(functions)
			functions = append(functions, p.Main())
		}
	}
	for _, fn := range functions {
		def, err := stateFromFunction(fn)
		if err != nil {
			return nil, err
		}
		state.Functions = append(state.Functions, *def)
	}
	for i := 0; i < p.ClassCount(); i++ {
		cls := p.ClassAt(i)
		def := classDef{
			Name:           cls.Name(),
			HasConstructor: cls.CtorClass() == cls,
			HasDestructor:  cls.DeclaresDestructor(),
			CtorIndex:      -1,
		}
		parentSlots := 0
		if parent := cls.Parent(); parent != nil {
			def.Parent = parent.Name()
			parentSlots = parent.NumSlots()
		}
		for s := parentSlots; s < cls.NumSlots(); s++ {
			def.OwnProperties = append(def.OwnProperties, cls.SlotName(s))
		}
		if ctor, ok := p.ctors[cls]; ok {
			idx, ok := index[ctor]
			if !ok {
				return nil, fmt.Errorf("constructor of class %q is not in the function table", cls.Name())
			}
			def.CtorIndex = idx
		}
		state.Classes = append(state.Classes, def)
	}
	state.GlobalNames = make([]string, 0, p.GlobalCount())
	for i := 0; i < p.GlobalCount(); i++ {
		state.GlobalNames = append(state.GlobalNames, p.GlobalNameAt(i))
	}
	return state, nil
}

func stateFromFunction(fn *Function) (*functionDef, error) {
	def := &functionDef{
		ID:            fn.ID(),
		Name:          fn.Name(),
		ClassName:     fn.ClassName(),
		Kind:          int(fn.Kind()),
		IsConstructor: fn.IsConstructor(),
		ParamCount:    fn.ParamCount(),
		LocalCount:    fn.LocalCount(),
	}
	def.Instructions = make([]op.Code, fn.InstructionCount())
	for i := 0; i < fn.InstructionCount(); i++ {
		def.Instructions[i] = fn.InstructionAt(i)
	}
	for i := 0; i < fn.ConstantCount(); i++ {
		raw, err := marshalConstant(fn.ConstantAt(i))
		if err != nil {
			return nil, fmt.Errorf("function %q constant %d: %w", fn.Name(), i, err)
		}
		def.Constants = append(def.Constants, raw)
	}
	for i := 0; i < fn.NameCount(); i++ {
		def.Names = append(def.Names, fn.NameAt(i))
	}
	for i := 0; i < fn.LocalNameCount(); i++ {
		def.LocalNames = append(def.LocalNames, fn.LocalNameAt(i))
	}
	for i := 0; i < fn.HandlerCount(); i++ {
		h := fn.HandlerAt(i)
		def.Handlers = append(def.Handlers, handlerDef{
			Kind: int(h.Kind), Base: h.Base, Past: h.Past,
			Target: h.Target, Parent: h.Parent, Depth: h.Depth,
		})
	}
	for i := 0; i < fn.CallRegionCount(); i++ {
		r := fn.CallRegionAt(i)
		def.CallRegions = append(def.CallRegions, callRegionDef{
			PrepOffset: r.PrepOffset, Base: r.Base, Past: r.Past,
		})
	}
	return def, nil
}

func marshalConstant(obj object.Object) (json.RawMessage, error) {
	switch obj := obj.(type) {
	case *object.NilType:
		return json.Marshal(constantDef{Type: "nil"})
	case *object.Bool:
		return json.Marshal(boolConstantDef{Type: "bool", Value: obj.Value()})
	case *object.Int:
		return json.Marshal(intConstantDef{Type: "int", Value: obj.Value()})
	case *object.Float:
		return json.Marshal(floatConstantDef{Type: "float", Value: obj.Value()})
	case *object.String:
		return json.Marshal(stringConstantDef{Type: "string", Value: obj.Value()})
	default:
		return nil, fmt.Errorf("unable to marshal constant of type %s", obj.Type())
	}
}

func unmarshalConstant(raw json.RawMessage) (object.Object, error) {
	var head constantDef
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "nil":
		return object.Nil, nil
	case "bool":
		var def boolConstantDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, err
		}
		return object.NewBool(def.Value), nil
	case "int":
		var def intConstantDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, err
		}
		return object.NewInt(def.Value), nil
	case "float":
		var def floatConstantDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, err
		}
		return object.NewFloat(def.Value), nil
	case "string":
		var def stringConstantDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, err
		}
		return object.NewString(def.Value), nil
	default:
		return nil, fmt.Errorf("unable to unmarshal constant of type %q", head.Type)
	}
}

func programFromState(state *programDef, builtins map[string]object.BuiltinFunction) (*Program, error) {
	functions := make([]*Function, 0, len(state.Functions))
	for i, def := range state.Functions {
		fn, err := functionFromState(&def, builtins)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		functions = append(functions, fn)
	}

	classes := make([]*object.Class, 0, len(state.Classes))
	byName := map[string]*object.Class{
		object.ThrowableClass.Name(): object.ThrowableClass,
		object.ExceptionClass.Name(): object.ExceptionClass,
		object.ErrorClass.Name():     object.ErrorClass,
	}
	bindings := make([]ClassBinding, 0, len(state.Classes))
	for _, def := range state.Classes {
		opts := []object.ClassOption{object.WithProperties(def.OwnProperties...)}
		if def.Parent != "" {
			parent, ok := byName[def.Parent]
			if !ok {
				return nil, fmt.Errorf("class %q: unknown parent %q", def.Name, def.Parent)
			}
			opts = append(opts, object.WithParent(parent))
		}
		if def.HasConstructor {
			opts = append(opts, object.WithConstructor())
		}
		cls := object.NewClass(def.Name, opts...)
		byName[def.Name] = cls
		classes = append(classes, cls)
		binding := ClassBinding{Class: cls}
		if def.CtorIndex >= 0 {
			if def.CtorIndex >= len(functions) {
				return nil, fmt.Errorf("class %q: ctor index %d out of range", def.Name, def.CtorIndex)
			}
			binding.Ctor = functions[def.CtorIndex]
		}
		bindings = append(bindings, binding)
	}

	var main *Function
	if state.MainIndex >= 0 {
		if state.MainIndex >= len(functions) {
			return nil, fmt.Errorf("main index %d out of range", state.MainIndex)
		}
		main = functions[state.MainIndex]
	}

	return NewProgram(ProgramParams{
		ID:          state.ID,
		Main:        main,
		Functions:   functions,
		Classes:     bindings,
		GlobalNames: state.GlobalNames,
	}), nil
}

func functionFromState(def *functionDef, builtins map[string]object.BuiltinFunction) (*Function, error) {
	constants := make([]object.Object, 0, len(def.Constants))
	for i, raw := range def.Constants {
		obj, err := unmarshalConstant(raw)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		constants = append(constants, obj)
	}
	handlers := make([]Handler, 0, len(def.Handlers))
	for _, h := range def.Handlers {
		handlers = append(handlers, Handler{
			Kind: HandlerKind(h.Kind), Base: h.Base, Past: h.Past,
			Target: h.Target, Parent: h.Parent, Depth: h.Depth,
		})
	}
	callRegions := make([]CallRegion, 0, len(def.CallRegions))
	for _, r := range def.CallRegions {
		callRegions = append(callRegions, CallRegion{
			PrepOffset: r.PrepOffset, Base: r.Base, Past: r.Past,
		})
	}
	var builtin object.BuiltinFunction
	if Kind(def.Kind) == KindBuiltin && builtins != nil {
		builtin = builtins[def.Name]
	}
	return NewFunction(FunctionParams{
		ID:            def.ID,
		Name:          def.Name,
		ClassName:     def.ClassName,
		Kind:          Kind(def.Kind),
		IsConstructor: def.IsConstructor,
		ParamCount:    def.ParamCount,
		LocalCount:    def.LocalCount,
		Instructions:  def.Instructions,
		Constants:     constants,
		Names:         def.Names,
		LocalNames:    def.LocalNames,
		Handlers:      handlers,
		CallRegions:   callRegions,
		Builtin:       builtin,
	}), nil
}
