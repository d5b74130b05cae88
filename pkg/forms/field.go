package forms

import (
	"context"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matthewbaird/atelier/pkg/debounce"
)

// FieldSchema declares one field of a form.
type FieldSchema struct {
	Value      any             `json:"value"`
	Validators []ValidatorSpec `json:"validators,omitempty"`
	// Step is the one-based wizard step the field belongs to. Zero means
	// step one.
	Step     int  `json:"step,omitempty"`
	Disabled bool `json:"disabled,omitempty"`
	Hidden   bool `json:"hidden,omitempty"`
	// OmitIf is a sentinel: when the field's value equals it, the field
	// is left out of the serialized payload. Build with OmitWhen.
	OmitIf *any `json:"omitIf,omitempty"`
	// Debounce overrides the form's validation debounce for this field.
	Debounce time.Duration `json:"debounce,omitempty"`
}

// OmitWhen wraps a sentinel value for FieldSchema.OmitIf.
func OmitWhen(v any) *any { return &v }

// Field manages one form field: its value, its initial value for dirty
// comparison, and its validation pipeline. Error slices are replaced
// wholesale on every validation pass, never patched.
type Field struct {
	form *Controller
	name string

	mu         sync.Mutex
	value      any
	initial    any
	errors     []string
	validators []ValidatorSpec
	step       int
	disabled   bool
	hidden     bool
	omitIf     *any
	valToken   uint64
	cancel     context.CancelFunc

	debouncer *debounce.Trailing
}

func newField(form *Controller, name string, schema *FieldSchema) *Field {
	step := schema.Step
	if step < 1 {
		step = 1
	}
	window := schema.Debounce
	if window <= 0 {
		window = form.debounceWindow
	}
	return &Field{
		form:       form,
		name:       name,
		value:      schema.Value,
		initial:    schema.Value,
		validators: append([]ValidatorSpec(nil), schema.Validators...),
		step:       step,
		disabled:   schema.Disabled,
		hidden:     schema.Hidden,
		omitIf:     schema.OmitIf,
		debouncer:  debounce.NewTrailing(window),
	}
}

// Name returns the field's name within its form.
func (f *Field) Name() string { return f.name }

// Value returns the current value.
func (f *Field) Value() any { f.mu.Lock(); defer f.mu.Unlock(); return f.value }

// Initial returns the value the field was created or last reset with.
func (f *Field) Initial() any { f.mu.Lock(); defer f.mu.Unlock(); return f.initial }

// Dirty reports whether the value differs structurally from the initial
// value.
func (f *Field) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !cmp.Equal(f.value, f.initial)
}

// Errors returns the field's current validation messages.
func (f *Field) Errors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

// Step returns the wizard step the field belongs to.
func (f *Field) Step() int { f.mu.Lock(); defer f.mu.Unlock(); return f.step }

// Disabled reports whether the field is disabled, either directly or
// because its form is sending.
func (f *Field) Disabled() bool {
	f.mu.Lock()
	disabled := f.disabled
	f.mu.Unlock()
	return disabled || f.form.Sending()
}

// SetDisabled toggles the field's own disabled flag.
func (f *Field) SetDisabled(disabled bool) {
	f.mu.Lock()
	f.disabled = disabled
	f.mu.Unlock()
}

// Hidden reports whether the field should be skipped by rendering.
func (f *Field) Hidden() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.hidden }

// Update sets the value and schedules debounced validation. This is the
// input-event path.
func (f *Field) Update(value any) {
	f.Set(value)
	f.debouncer.Call(f.runValidation)
}

// Set stores the value without triggering validation.
func (f *Field) Set(value any) {
	f.mu.Lock()
	f.value = value
	f.mu.Unlock()
	f.form.publishRawData()
}

// SetInitial replaces the initial value used for dirty comparison and
// reset.
func (f *Field) SetInitial(value any) {
	f.mu.Lock()
	f.initial = value
	f.mu.Unlock()
}

// SetErrors replaces the field's messages wholesale. Used by the form's
// server-error distribution.
func (f *Field) SetErrors(errs []string) {
	f.mu.Lock()
	f.valToken++
	f.errors = append([]string(nil), errs...)
	f.mu.Unlock()
}

// ClearErrors drops all messages.
func (f *Field) ClearErrors() { f.SetErrors(nil) }

// Validate runs validation immediately, flushing any pending debounced
// run. The blur-event path.
func (f *Field) Validate() {
	f.debouncer.Cancel()
	f.runValidation()
}

// CancelValidation aborts pending and in-flight validation without
// touching the current messages.
func (f *Field) CancelValidation() {
	f.debouncer.Cancel()
	f.mu.Lock()
	f.valToken++
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runValidation executes the field's validators. Sync validators run
// inline; async validators run in a goroutine, and all messages land in
// one wholesale update so they cannot flicker in piecemeal. A validation
// pass that has been superseded discards its result.
func (f *Field) runValidation() {
	f.mu.Lock()
	f.valToken++
	tok := f.valToken
	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	value := f.value
	specs := append([]ValidatorSpec(nil), f.validators...)
	f.mu.Unlock()

	var errs []string
	var asyncSpecs []ValidatorSpec
	for _, spec := range specs {
		if spec.Async {
			asyncSpecs = append(asyncSpecs, spec)
			continue
		}
		if fn := lookupValidator(spec.Name); fn != nil {
			errs = append(errs, fn(value, spec.Args)...)
		}
	}
	if len(asyncSpecs) == 0 {
		cancel()
		f.applyValidation(tok, errs)
		return
	}
	go func() {
		defer cancel()
		for _, spec := range asyncSpecs {
			fn := lookupAsyncValidator(spec.Name)
			if fn == nil {
				continue
			}
			more, err := fn(ctx, f.form.store.Client, value, spec.Args)
			if err != nil {
				// Cancelled or unreachable; suppress rather than block
				// the user on a flaky check.
				continue
			}
			errs = append(errs, more...)
		}
		f.applyValidation(tok, errs)
	}()
}

func (f *Field) applyValidation(tok uint64, errs []string) {
	f.mu.Lock()
	if tok != f.valToken {
		f.mu.Unlock()
		return
	}
	f.errors = errs
	f.mu.Unlock()
}

// omitted reports whether the current value matches the omit sentinel.
func (f *Field) omitted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.omitIf == nil {
		return false
	}
	return cmp.Equal(f.value, *f.omitIf)
}

func (f *Field) purge() {
	f.CancelValidation()
}

func (f *Field) resetToInitial() {
	f.mu.Lock()
	f.valToken++
	f.value = f.initial
	f.errors = nil
	f.mu.Unlock()
}
