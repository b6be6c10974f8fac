package validator

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/MJE43/minigame-hub/internal/catalog"
)

func quietValidator() *Validator {
	return New(log.New(io.Discard, "", 0))
}

func fixed(name string, ok bool, calls *[]string) catalog.Rule {
	return catalog.RuleFunc{
		RuleName: name,
		Message:  name + " failed",
		Fn: func(ctx context.Context, d *catalog.Descriptor) (bool, error) {
			*calls = append(*calls, name)
			return ok, nil
		},
	}
}

func TestValidateGameNoRules(t *testing.T) {
	d := catalog.MustDescriptor(catalog.Spec{Name: "puzzle"})
	res := quietValidator().ValidateGame(context.Background(), d)
	if !res.Valid {
		t.Error("expected valid with zero rules")
	}
	if res.Errors == nil || len(res.Errors) != 0 {
		t.Errorf("Errors = %#v, want empty non-nil slice", res.Errors)
	}
}

func TestValidateGameCountsFailuresInOrder(t *testing.T) {
	var calls []string
	d := catalog.MustDescriptor(catalog.Spec{Name: "trivia"},
		fixed("a", false, &calls),
		fixed("b", true, &calls),
		fixed("c", false, &calls),
	)

	res := quietValidator().ValidateGame(context.Background(), d)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", res.Errors)
	}
	if res.Errors[0] != "a failed" || res.Errors[1] != "c failed" {
		t.Errorf("errors out of order: %v", res.Errors)
	}
	if len(calls) != 3 {
		t.Errorf("calls = %v, want every rule invoked", calls)
	}
}

func TestValidateGameAllPass(t *testing.T) {
	var calls []string
	d := catalog.MustDescriptor(catalog.Spec{Name: "trivia"},
		fixed("a", true, &calls),
		fixed("b", true, &calls),
	)
	if res := quietValidator().ValidateGame(context.Background(), d); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
}

func TestValidateGameThrowingRuleDoesNotAbort(t *testing.T) {
	tests := []struct {
		name   string
		middle catalog.Rule
	}{
		{"error", catalog.RuleFunc{RuleName: "boom", Fn: func(context.Context, *catalog.Descriptor) (bool, error) {
			return false, errors.New("exploded")
		}}},
		{"panic", catalog.RuleFunc{RuleName: "boom", Fn: func(context.Context, *catalog.Descriptor) (bool, error) {
			panic("exploded")
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			middleCalled := false
			middle := catalog.RuleFunc{RuleName: "boom", Fn: func(ctx context.Context, d *catalog.Descriptor) (bool, error) {
				middleCalled = true
				return tt.middle.Validate(ctx, d)
			}}
			d := catalog.MustDescriptor(catalog.Spec{Name: "trivia"},
				fixed("first", false, &calls),
				middle,
				fixed("last", true, &calls),
			)

			res := quietValidator().ValidateGame(context.Background(), d)
			if !middleCalled || len(calls) != 2 {
				t.Errorf("not every rule invoked: calls=%v middle=%t", calls, middleCalled)
			}
			if len(res.Errors) != 2 {
				t.Fatalf("errors = %v, want 2", res.Errors)
			}
			if res.Errors[0] != "first failed" {
				t.Errorf("first error = %q", res.Errors[0])
			}
			if res.Valid {
				t.Error("expected invalid")
			}
		})
	}
}
