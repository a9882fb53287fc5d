package tools

import (
	"context"
	"testing"
)

type testContextKey string

type testInput struct {
	Value int `json:"value"`
}

func TestToolFuncExecute_SupportsContextAndInputSignature(t *testing.T) {
	def, err := NewToolFromFunc(
		"ctx_input_tool",
		"test",
		func(ctx context.Context, in testInput) (int, error) {
			if ctx == nil {
				t.Fatalf("ctx should not be nil")
			}
			return in.Value + 1, nil
		},
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}

	out, err := def.Function.Execute(context.Background(), []byte(`{"value":41}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	v, ok := out.(int)
	if !ok {
		t.Fatalf("expected int result, got %T", out)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestToolFuncExecute_PassesProvidedContext(t *testing.T) {
	key := testContextKey("tool-test-key")
	def, err := NewToolFromFunc(
		"ctx_passthrough_tool",
		"test",
		func(ctx context.Context, in testInput) (bool, error) {
			v, _ := ctx.Value(key).(string)
			return v == "ok" && in.Value == 7, nil
		},
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}

	ctx := context.WithValue(context.Background(), key, "ok")
	out, err := def.Function.Execute(ctx, []byte(`{"value":7}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != true {
		t.Fatalf("expected context and input to be observed, got %v", out)
	}
}

func TestToolFuncExecute_SupportsInputOnlySignature(t *testing.T) {
	def, err := NewToolFromFunc(
		"input_tool",
		"test",
		func(in testInput) (int, error) { return in.Value * 2, nil },
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}
	out, err := def.Function.Execute(context.Background(), []byte(`{"value":21}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != 42 {
		t.Fatalf("expected 42, got %v", out)
	}
}

func TestToolFuncExecute_SupportsNiladicSignature(t *testing.T) {
	def, err := NewToolFromFunc(
		"niladic_tool",
		"test",
		func() (string, error) { return "pong", nil },
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}
	out, err := def.Function.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "pong" {
		t.Fatalf("expected pong, got %v", out)
	}
}

func TestNewToolFromFunc_GeneratesParameterSchema(t *testing.T) {
	def, err := NewToolFromFunc(
		"schema_tool",
		"test",
		func(in testInput) (int, error) { return in.Value, nil },
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}
	if def.Parameters == nil {
		t.Fatalf("expected a parameter schema")
	}
	if _, ok := def.Parameters.Properties.Get("value"); !ok {
		t.Fatalf("expected schema to describe the value property")
	}
}

func TestNewToolFromFunc_RejectsInvalidShapes(t *testing.T) {
	if _, err := NewToolFromFunc("bad", "test", 42); err == nil {
		t.Fatalf("expected error for non-function value")
	}
	if _, err := NewToolFromFunc("bad", "test", func() {}); err == nil {
		t.Fatalf("expected error for function without results")
	}
	if _, err := NewToolFromFunc("bad", "test", func(a, b testInput) (int, error) { return 0, nil }); err == nil {
		t.Fatalf("expected error for two non-context params")
	}
	if _, err := NewToolFromFunc("bad", "test", func() (int, string) { return 0, "" }); err == nil {
		t.Fatalf("expected error for non-error second result")
	}
}
