package workflow

import (
	"strings"
	"testing"
	"unsafe"
)

func TestAssertNoExecutableContent_PlainData(t *testing.T) {
	value := map[string]interface{}{
		"Name": "grant-birthright",
		"With": map[string]interface{}{
			"Attribute": "department",
			"Count":     3,
			"Enabled":   true,
			"Tags":      []interface{}{"a", "b", nil},
			"Nested":    map[string]interface{}{"Ratio": 0.5},
		},
	}

	if err := AssertNoExecutableContent(value, "Workflow"); err != nil {
		t.Fatalf("Expected plain data to pass, got: %v", err)
	}
}

func TestAssertNoExecutableContent_Nil(t *testing.T) {
	if err := AssertNoExecutableContent(nil, "Request"); err != nil {
		t.Fatalf("Expected nil to pass, got: %v", err)
	}
}

func TestAssertNoExecutableContent_TopLevelFunc(t *testing.T) {
	err := AssertNoExecutableContent(func() {}, "With")
	if err == nil {
		t.Fatal("Expected error for func value")
	}
	if !IsExecutableContent(err) {
		t.Errorf("Expected ExecutableContentError, got %T", err)
	}
}

func TestAssertNoExecutableContent_ClosureDeepInArrayOfMaps(t *testing.T) {
	// A closure hidden three levels down: map -> slice -> map.
	payload := map[string]interface{}{
		"Input": map[string]interface{}{
			"hooks": []interface{}{
				map[string]interface{}{"name": "first"},
				map[string]interface{}{"name": "second"},
				map[string]interface{}{
					"name":     "third",
					"callback": func() error { return nil },
				},
			},
		},
	}

	err := AssertNoExecutableContent(payload, "Request")
	if err == nil {
		t.Fatal("Expected error for nested closure")
	}
	if !IsExecutableContent(err) {
		t.Fatalf("Expected ExecutableContentError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "Request.Input.hooks[2].callback") {
		t.Errorf("Expected path in error, got: %v", err)
	}
}

func TestAssertNoExecutableContent_Channel(t *testing.T) {
	payload := map[string]interface{}{
		"signal": make(chan struct{}),
	}

	err := AssertNoExecutableContent(payload, "With")
	if err == nil {
		t.Fatal("Expected error for channel value")
	}
	if !strings.Contains(err.Error(), "chan") {
		t.Errorf("Expected kind in error, got: %v", err)
	}
}

func TestAssertNoExecutableContent_UnsafePointer(t *testing.T) {
	x := 1
	payload := []interface{}{unsafe.Pointer(&x)}

	if err := AssertNoExecutableContent(payload, "With"); err == nil {
		t.Fatal("Expected error for unsafe pointer")
	}
}

func TestAssertNoExecutableContent_FuncInStructField(t *testing.T) {
	type options struct {
		Name string
		Hook func()
	}

	err := AssertNoExecutableContent(options{Name: "x", Hook: func() {}}, "With")
	if err == nil {
		t.Fatal("Expected error for func struct field")
	}
	if !strings.Contains(err.Error(), "With.Hook") {
		t.Errorf("Expected field path in error, got: %v", err)
	}
}

func TestAssertNoExecutableContent_FuncInUntypedMap(t *testing.T) {
	payload := map[string]interface{}{
		"inner": map[interface{}]interface{}{
			"ok": 1,
		},
	}
	payload["inner"].(map[interface{}]interface{})["bad"] = func() {}

	if err := AssertNoExecutableContent(payload, "With"); err == nil {
		t.Fatal("Expected error for func map value")
	}
}

func TestAssertNoExecutableContent_CyclicData(t *testing.T) {
	// The walk must terminate on cycles instead of recursing forever.
	inner := map[string]interface{}{}
	inner["self"] = inner
	payload := map[string]interface{}{"loop": inner}

	if err := AssertNoExecutableContent(payload, "Request"); err != nil {
		t.Fatalf("Expected cyclic plain data to pass, got: %v", err)
	}
}

func TestAssertNoExecutableContent_PointerToStruct(t *testing.T) {
	type inner struct {
		Callback func()
	}
	type outer struct {
		Inner *inner
	}

	err := AssertNoExecutableContent(&outer{Inner: &inner{Callback: func() {}}}, "Request")
	if err == nil {
		t.Fatal("Expected error for func behind pointers")
	}
	if !strings.Contains(err.Error(), "Request.Inner.Callback") {
		t.Errorf("Expected pointer-traversed path, got: %v", err)
	}
}
