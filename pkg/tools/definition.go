package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Definition describes a tool capability the model may request.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    Func               `json:"-"`
	Tags        []string           `json:"tags,omitempty"`
}

// Func wraps the actual Go function behind a tool with pre-compiled
// reflection plumbing.
type Func struct {
	fn        interface{}
	call      func(ctx context.Context, args []byte) (interface{}, error)
	inputType reflect.Type
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// NewToolFromFunc creates a Definition from a Go function. Supported
// signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//	func(context.Context) (Result, error)
//	func() (Result, error)
//
// The parameter schema is generated from Input by reflection.
func NewToolFromFunc(name, description string, fn interface{}) (*Definition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errType) {
		return nil, errors.New("second return value must be an error")
	}

	wantsCtx, inputType, err := classifyParams(funcType)
	if err != nil {
		return nil, err
	}

	schema, err := schemaForInput(inputType)
	if err != nil {
		return nil, errors.Wrap(err, "generate parameter schema")
	}

	funcValue := reflect.ValueOf(fn)
	call := func(ctx context.Context, args []byte) (interface{}, error) {
		in := make([]reflect.Value, 0, 2)
		if wantsCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inputType != nil {
			input := reflect.New(inputType).Interface()
			if len(args) > 0 {
				if err := json.Unmarshal(args, input); err != nil {
					return nil, errors.Wrap(err, "unmarshal arguments")
				}
			}
			in = append(in, reflect.ValueOf(input).Elem())
		}
		return extractResults(funcValue.Call(in))
	}

	return &Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function:    Func{fn: fn, call: call, inputType: inputType},
	}, nil
}

// Execute invokes the wrapped function with JSON-serialized arguments.
func (f *Func) Execute(ctx context.Context, args []byte) (interface{}, error) {
	if f.call == nil {
		return nil, errors.New("tool function not properly initialized")
	}
	return f.call(ctx, args)
}

func classifyParams(funcType reflect.Type) (wantsCtx bool, inputType reflect.Type, err error) {
	switch funcType.NumIn() {
	case 0:
		return false, nil, nil
	case 1:
		if funcType.In(0) == ctxType {
			return true, nil, nil
		}
		return false, funcType.In(0), nil
	case 2:
		if funcType.In(0) != ctxType {
			return false, nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return true, funcType.In(1), nil
	default:
		return false, nil, errors.Errorf("unsupported tool function arity %d", funcType.NumIn())
	}
}

func schemaForInput(inputType reflect.Type) (*jsonschema.Schema, error) {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	inputInstance := reflect.New(inputType).Elem().Interface()
	reflector := jsonschema.Reflector{
		// expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(inputInstance)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if errVal := results[1].Interface(); errVal != nil {
			if err, ok := errVal.(error); ok {
				return result, err
			}
			return result, errors.Errorf("unexpected error type: %T", errVal)
		}
		return result, nil
	default:
		return nil, errors.Errorf("unexpected number of return values: %d", len(results))
	}
}
