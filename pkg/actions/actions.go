// Package actions performs multi-step UI interactions on a PageDriver:
// form filling, login, click-then-settle, mouse gestures and response
// waits. Gestures need a driver.Pointer and response waits a
// driver.NetworkLog; other drivers get driver.ErrUnsupported.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/retry"
)

// FieldKind is the kind of form control a Field drives.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindSelect   FieldKind = "select"
	KindCheckbox FieldKind = "checkbox"
	KindRadio    FieldKind = "radio"
)

// Field is one form control to set. For checkboxes Value is "true" or
// "false"; for radios it is ignored.
type Field struct {
	Selector string    `mapstructure:"selector" yaml:"selector" validate:"required"`
	Kind     FieldKind `mapstructure:"kind" yaml:"kind" validate:"omitempty,oneof=text select checkbox radio"`
	Value    string    `mapstructure:"value" yaml:"value"`
}

// ErrElementNotFound is returned when no selector in a fallback list
// matches.
var ErrElementNotFound = errors.New("element not found")

// Find returns the first element matched by any of selectors, trying them
// in order.
func Find(ctx context.Context, d driver.Querier, selectors ...string) (driver.Element, error) {
	for _, sel := range selectors {
		el, err := d.Query(ctx, sel)
		if err != nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", strings.Join(selectors, " | "), ErrElementNotFound)
}

// FillForm sets every field in order and stops at the first failure,
// reporting how many fields were set.
func FillForm(ctx context.Context, d driver.PageDriver, fields []Field) error {
	for i, f := range fields {
		if err := fillField(ctx, d, f); err != nil {
			return fmt.Errorf("field %d (%s %q) failed after %d completed: %w", i, kindOf(f), f.Selector, i, err)
		}
	}
	return nil
}

func kindOf(f Field) FieldKind {
	if f.Kind == "" {
		return KindText
	}
	return f.Kind
}

func fillField(ctx context.Context, d driver.PageDriver, f Field) error {
	el, err := Find(ctx, d, f.Selector)
	if err != nil {
		return err
	}

	switch kindOf(f) {
	case KindText, KindSelect:
		return d.Fill(ctx, el, f.Value)
	case KindCheckbox:
		want := strings.EqualFold(strings.TrimSpace(f.Value), "true")
		checked, err := d.IsChecked(ctx, el)
		if err != nil {
			return err
		}
		if checked != want {
			return d.Click(ctx, el)
		}
		return nil
	case KindRadio:
		checked, err := d.IsChecked(ctx, el)
		if err != nil {
			return err
		}
		if !checked {
			return d.Click(ctx, el)
		}
		return nil
	default:
		return fmt.Errorf("unknown field kind %q", f.Kind)
	}
}

// LoginForm locates the credential fields of a login form. Each list is
// tried in order.
type LoginForm struct {
	UsernameSelectors []string
	PasswordSelectors []string
	SubmitSelectors   []string
}

// DefaultLoginForm matches the common markup for username, password and
// submit controls.
func DefaultLoginForm() LoginForm {
	return LoginForm{
		UsernameSelectors: []string{"#username", "#email", "input[name='email']", "input[type='email']", "input[name='username']"},
		PasswordSelectors: []string{"#password", "input[name='password']", "input[type='password']"},
		SubmitSelectors:   []string{"button[type='submit']", "input[type='submit']"},
	}
}

func (f LoginForm) withDefaults() LoginForm {
	def := DefaultLoginForm()
	if len(f.UsernameSelectors) == 0 {
		f.UsernameSelectors = def.UsernameSelectors
	}
	if len(f.PasswordSelectors) == 0 {
		f.PasswordSelectors = def.PasswordSelectors
	}
	if len(f.SubmitSelectors) == 0 {
		f.SubmitSelectors = def.SubmitSelectors
	}
	return f
}

// Login fills username and password and submits the form, then waits for
// the page to settle.
func Login(ctx context.Context, d driver.PageDriver, form LoginForm, username, password string, settle time.Duration) error {
	form = form.withDefaults()

	user, err := Find(ctx, d, form.UsernameSelectors...)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := d.Fill(ctx, user, username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}

	pass, err := Find(ctx, d, form.PasswordSelectors...)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := d.Fill(ctx, pass, password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	submit, err := Find(ctx, d, form.SubmitSelectors...)
	if err != nil {
		return fmt.Errorf("submit control: %w", err)
	}
	logger.FromContext(ctx).Debug("submitting login form", "username", username)
	return clickAndSettle(ctx, d, submit, settle)
}

// ClickAndSettle clicks the first element matching selector and waits for
// network idle. The click is retried under policy; a settle timeout is
// logged and not returned.
func ClickAndSettle(ctx context.Context, d driver.PageDriver, policy *retry.Policy, selector string, settle time.Duration) error {
	return policy.Do(ctx, func(ctx context.Context) error {
		el, err := d.Query(ctx, selector)
		if err != nil {
			return err
		}
		if el == nil {
			return retry.MarkTransient(fmt.Errorf("%q: %w", selector, ErrElementNotFound))
		}
		return clickAndSettle(ctx, d, el, settle)
	})
}

func clickAndSettle(ctx context.Context, d driver.PageDriver, el driver.Element, settle time.Duration) error {
	if err := d.Click(ctx, el); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	if err := d.WaitForNetworkIdle(ctx, settle); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.FromContext(ctx).Debug("page did not settle", "timeout", settle, "error", err)
	}
	return nil
}
