package services

import (
	"math"
	"testing"
)

func TestEvaluateConditionBasics(t *testing.T) {
	bindings := map[string]any{
		"Status":   "Pregnant",
		"Age":      float64(24),
		"Symptoms": []any{"Cough", "Fever"},
		"Result":   "",
	}
	cases := []struct {
		expr string
		want bool
	}{
		{`{Status} = "Pregnant"`, true},
		{`{Status} == "Pregnant"`, true},
		{`${Status} = "Pregnant"`, true},
		{`{Status} = "Breastfeeding"`, false},
		{`{Status} != "Breastfeeding"`, true},
		{`{Age} >= 18`, true},
		{`{Age} < 18`, false},
		{`{Age} > 20 && {Status} = "Pregnant"`, true},
		{`{Age} > 30 || {Status} = "Pregnant"`, true},
		{`{Age} > 30 && {Status} = "Pregnant"`, false},
		{`!({Age} > 30)`, true},
		{`{Symptoms} = "Cough,Fever"`, true},
		{`{Result} = ""`, true},
		{`{Missing} = "x"`, false},
		{`{Missing} == null`, true},
		{`{Age} + 1 == 25`, true},
		{`{Age} * 2 > 40`, true},
		{``, false},
		{`   `, false},
	}
	for _, c := range cases {
		if got := EvaluateCondition(c.expr, bindings, nil); got != c.want {
			t.Fatalf("EvaluateCondition(%q)=%v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvaluateConditionSingleSelectionMatches(t *testing.T) {
	// A single selection in a multi-choice field still matches plain equality.
	bindings := map[string]any{"Symptoms": []any{"Cough"}}
	if !EvaluateCondition(`{Symptoms} = "Cough"`, bindings, nil) {
		t.Fatalf("single-element selection should equal its text")
	}
}

func TestEvaluateConditionFailSoft(t *testing.T) {
	var warned []string
	warn := func(expr string, err error) { warned = append(warned, expr) }

	bad := []string{
		`{Age} >`,
		`{Age} = )`,
		`foo({Age})`,
		`{Age} %% 2`,
	}
	for _, expr := range bad {
		if EvaluateCondition(expr, map[string]any{"Age": float64(3)}, warn) {
			t.Fatalf("malformed expression %q should evaluate false", expr)
		}
	}
	if len(warned) != len(bad) {
		t.Fatalf("expected %d warnings, got %d", len(bad), len(warned))
	}
}

func TestEvaluateRejectsDisallowedCharacters(t *testing.T) {
	if _, err := Evaluate(`{A} = "x"; drop`, map[string]any{"A": "x"}); err == nil {
		// Semicolons pass the character filter but fail the grammar.
		t.Fatalf("trailing statement should not parse")
	}
	if _, err := Evaluate(`{A} % 2 == 0`, map[string]any{"A": float64(4)}); err == nil {
		t.Fatalf("%% should be rejected")
	}
	if _, err := Evaluate("`rm`", nil); err == nil {
		t.Fatalf("backquotes should be rejected")
	}
}

func TestEvaluateLoneEqualsRewrite(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`{A} = 1`, true},
		{`{A} != 2`, true},
		{`{A} <= 1`, true},
		{`{A} >= 1`, true},
		{`{A} == 1`, true},
	}
	bindings := map[string]any{"A": float64(1)}
	for _, c := range cases {
		v, err := Evaluate(c.expr, bindings)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", c.expr, err)
		}
		if v != c.want {
			t.Fatalf("Evaluate(%q)=%v, want %v", c.expr, v, c.want)
		}
	}
}

func TestEvaluateNumber(t *testing.T) {
	bindings := map[string]any{
		"Qty":   float64(3),
		"Price": "2.5",
		"Name":  "x",
	}
	cases := []struct {
		expr string
		want float64
	}{
		{`{Qty}`, 3},
		{`{Price}`, 2.5},
		{`{Qty} * {Price}`, 7.5},
		{`{Qty} + 1`, 4},
		{`{Name}`, 0},  // non-numeric collapses to 0
		{`{Gone}`, 0},  // unbound token is null
		{`{Qty} >`, 0}, // parse failure
		{``, 0},
	}
	for _, c := range cases {
		if got := EvaluateNumber(c.expr, bindings, nil); got != c.want {
			t.Fatalf("EvaluateNumber(%q)=%v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	v, err := Evaluate(`{A} / 0`, map[string]any{"A": float64(1)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	n, ok := v.(float64)
	if !ok || !math.IsInf(n, 1) {
		t.Fatalf("1/0 = %v, want +Inf", v)
	}
	if got := EvaluateNumber(`0 / 0`, nil, nil); got != 0 {
		t.Fatalf("0/0 should collapse to 0, got %v", got)
	}
}

func TestEvaluateStringConcat(t *testing.T) {
	v, err := Evaluate(`{First} + " " + {Last}`, map[string]any{"First": "Ama", "Last": "Mensah"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v != "Ama Mensah" {
		t.Fatalf("concat = %q", v)
	}
}

func TestEvaluateListLiteral(t *testing.T) {
	v, err := Evaluate(`["a", "b"] == "a,b"`, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v != true {
		t.Fatalf("list literal should equal joined text, got %v", v)
	}
}

func TestExtractFieldToken(t *testing.T) {
	cases := []struct {
		expr, want string
	}{
		{`{Quantity}`, "Quantity"},
		{`${Quantity}`, "Quantity"},
		{`{ Quantity } + 1`, "Quantity"},
		{`5 + 2`, ""},
	}
	for _, c := range cases {
		if got := ExtractFieldToken(c.expr); got != c.want {
			t.Fatalf("ExtractFieldToken(%q)=%q, want %q", c.expr, got, c.want)
		}
	}
}

func TestSubstituteTokensQuotesStrings(t *testing.T) {
	// String values arrive quoted so user text never parses as syntax.
	v, err := Evaluate(`{Note} == "a-b c"`, map[string]any{"Note": "a-b c"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v != true {
		t.Fatalf("quoted substitution failed: %v", v)
	}
}
