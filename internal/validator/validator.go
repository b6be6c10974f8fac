// Package validator runs a descriptor's rules and folds them into one verdict.
package validator

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/MJE43/minigame-hub/internal/catalog"
)

// Result is the outcome of validating one descriptor. Valid is true exactly
// when Errors is empty.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validator checks whether a game may proceed to loading.
type Validator struct {
	logger *log.Logger
}

// New creates a validator. A nil logger writes to stdout.
func New(logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(os.Stdout, "[validator] ", log.LstdFlags)
	}
	return &Validator{logger: logger}
}

// ValidateGame runs every attached rule sequentially in attachment order.
// A rule that returns false, returns an error or panics contributes exactly one
// error entry; the remaining rules still run. ValidateGame never fails.
func (v *Validator) ValidateGame(ctx context.Context, d *catalog.Descriptor) Result {
	res := Result{Errors: []string{}}
	if d == nil {
		res.Errors = append(res.Errors, "no game selected")
		return res
	}

	for _, rule := range d.Rules() {
		ok, err := v.runRule(ctx, rule, d)
		switch {
		case err != nil:
			v.logger.Printf("rule error game=%s rule=%s err=%v", d.Name(), rule.Name(), err)
			res.Errors = append(res.Errors, fmt.Sprintf("Validation error: %v", err))
		case !ok:
			res.Errors = append(res.Errors, rule.ErrorMessage())
		}
	}

	res.Valid = len(res.Errors) == 0
	v.logger.Printf("validated game=%s rules=%d valid=%t", d.Name(), len(d.Rules()), res.Valid)
	return res
}

func (v *Validator) runRule(ctx context.Context, rule catalog.Rule, d *catalog.Descriptor) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("rule %s panicked: %v", rule.Name(), r)
		}
	}()
	return rule.Validate(ctx, d)
}
