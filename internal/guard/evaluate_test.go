package guard

import "testing"

func TestEvaluateEmptyIsTrue(t *testing.T) {
	ok, err := Evaluate("", Context{})
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(\"\") = false, want true")
	}
}

func TestEvaluateBarePathTruthy(t *testing.T) {
	ctx := Context{"status": map[string]interface{}{"approved": true}}
	ok, err := Evaluate("status.approved", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(status.approved) = false, want true")
	}

	ok, err = Evaluate("status.missing", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if ok {
		t.Errorf("Evaluate(status.missing) = true, want false")
	}
}

func TestEvaluateEquality(t *testing.T) {
	ctx := Context{"status": map[string]interface{}{"needsChanges": true, "count": float64(3)}}

	ok, err := Evaluate("status.needsChanges == true", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(status.needsChanges == true) = false, want true")
	}

	ok, err = Evaluate("status.needsChanges != true", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if ok {
		t.Errorf("Evaluate(status.needsChanges != true) = true, want false")
	}

	ok, err = Evaluate("status.count == 3", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(status.count == 3) = false, want true")
	}
}

func TestEvaluateMissingPathEqualsNull(t *testing.T) {
	ok, err := Evaluate("status.missing == null", Context{})
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(status.missing == null) = false, want true")
	}
}

func TestEvaluateAndOrPrecedence(t *testing.T) {
	ctx := Context{"status": map[string]interface{}{"a": true, "b": false, "c": true}}

	// a and b or c  ==  (a and b) or c  ==  (true and false) or true == true
	ok, err := Evaluate("status.a and status.b or status.c", ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("Evaluate(a and b or c) = false, want true")
	}
}

func TestEvaluateSyntaxErrorIsUnsatisfied(t *testing.T) {
	if _, err := Evaluate("status.a ==", Context{}); err == nil {
		t.Errorf("Evaluate(status.a ==) expected error, got nil")
	}
}

func TestEvaluateQuotedStringComparison(t *testing.T) {
	ctx := Context{"phase": "review"}
	ok, err := Evaluate(`phase == "review"`, ctx)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !ok {
		t.Errorf(`Evaluate(phase == "review") = false, want true`)
	}
}

func TestFlattenContext(t *testing.T) {
	ctx := Context{"a": map[string]interface{}{"b": map[string]interface{}{"c": "value"}}}
	flat := ctx.Flatten()
	if flat["A_B_C"] != "value" {
		t.Errorf("flat[A_B_C] = %q, want %q", flat["A_B_C"], "value")
	}
}
