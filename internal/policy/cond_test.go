package policy

import (
	"testing"

	"github.com/cortexhub/cortexhub/internal/model"
)

func mustCompile(t *testing.T, src string) Expr {
	t.Helper()
	expr, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return expr
}

func TestNumericComparisons(t *testing.T) {
	env := Env{Args: map[string]any{"amount": 750}}

	cases := []struct {
		src  string
		want bool
	}{
		{"args.amount > 500", true},
		{"args.amount > 750", false},
		{"args.amount >= 750", true},
		{"args.amount < 1000", true},
		{"args.amount <= 749", false},
		{"args.amount == 750", true},
		{"args.amount != 750", false},
	}
	for _, tc := range cases {
		if got := mustCompile(t, tc.src).Eval(env); got != tc.want {
			t.Errorf("%q = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestDecimalStringCoercion(t *testing.T) {
	// Frameworks pass amounts as decimal strings as often as JSON numbers.
	env := Env{Args: map[string]any{"amount": "750.00"}}

	if !mustCompile(t, "args.amount > 500").Eval(env) {
		t.Error(`"750.00" > 500 should hold`)
	}
}

func TestMissingFieldIsNonMatch(t *testing.T) {
	env := Env{Args: map[string]any{"amount": 750}}

	if mustCompile(t, "args.quantity > 0").Eval(env) {
		t.Error("comparison on a missing field must be false")
	}
	if mustCompile(t, "args.quantity > 0 or args.amount > 500").Eval(env) != true {
		t.Error("or-branch with present field should still match")
	}
}

func TestMembershipAndContains(t *testing.T) {
	env := Env{Args: map[string]any{"region": "eu", "path": "/etc/passwd"}}

	if !mustCompile(t, `args.region in ["eu", "us"]`).Eval(env) {
		t.Error("membership should match")
	}
	if mustCompile(t, `args.region in ["apac"]`).Eval(env) {
		t.Error("non-member should not match")
	}
	if !mustCompile(t, `args.path contains "/etc"`).Eval(env) {
		t.Error("contains should match substring")
	}
}

func TestBooleanCombinators(t *testing.T) {
	env := Env{
		Args:     map[string]any{"amount": 750, "dry_run": false},
		Entities: map[model.EntityKind]int{model.EntityEmail: 2},
	}

	if !mustCompile(t, "args.amount > 500 and entities.EMAIL > 0").Eval(env) {
		t.Error("and should match")
	}
	if !mustCompile(t, "not (args.dry_run == true)").Eval(env) {
		t.Error("not should match")
	}
	if !mustCompile(t, "args.amount > 1000 or entities.total >= 2").Eval(env) {
		t.Error("entities.total should be resolvable")
	}
}

func TestUnseenEntityKindCountsAsZero(t *testing.T) {
	env := Env{Entities: map[model.EntityKind]int{}}

	if !mustCompile(t, "entities.SSN == 0").Eval(env) {
		t.Error("unseen kind should compare equal to zero")
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		"args.amount >",
		"amount > 500",
		"args.amount >> 5",
		"args.region in eu",
		"(args.amount > 5",
		"args.amount > 500 trailing",
	}
	for _, src := range bad {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) should fail", src)
		}
	}
}
