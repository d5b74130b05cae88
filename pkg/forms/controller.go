// Package forms implements debounce-validated, step-gated form state
// synchronized to a REST endpoint. A form owns its fields; fields are
// addressed through the form rather than registered individually, which
// keeps a form and its fields reaped as one unit.
package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/observer"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/store"
)

// defaultDebounce is the validation debounce for forms that do not set
// their own.
const defaultDebounce = 500 * time.Millisecond

// Schema declares a form on first Use.
type Schema struct {
	Endpoint string                  `json:"endpoint"`
	Method   string                  `json:"method,omitempty"`
	Fields   map[string]*FieldSchema `json:"fields"`
	// Debounce is the default validation debounce for the form's fields.
	Debounce time.Duration `json:"debounce,omitempty"`
	// Reset restores initial values after a successful submit.
	Reset      bool `json:"reset,omitempty"`
	Step       int  `json:"step,omitempty"`
	Persistent bool `json:"persistent,omitempty"`
}

// Controller manages one form.
type Controller struct {
	store          *store.Store
	debounceWindow time.Duration

	mu         sync.Mutex
	name       string
	endpoint   string
	method     string
	fields     map[string]*Field
	errors     []string
	sending    bool
	step       int
	resetAfter bool
	persist    bool
	purged     bool
	lastRaw    map[string]any

	changes observer.Hub[map[string]any]
}

// Use fetches or creates the form registered under name.
func Use(st *store.Store, sc *registry.Scope, name string, schema *Schema) (*Controller, error) {
	var build func() registry.Controller
	if schema != nil {
		build = func() registry.Controller { return newController(st, name, schema) }
	}
	ctrl, err := st.Forms.Use(sc, name, build)
	if err != nil {
		return nil, err
	}
	typed, ok := ctrl.(*Controller)
	if !ok {
		return nil, fmt.Errorf("forms: %q is not a form controller", name)
	}
	return typed, nil
}

func newController(st *store.Store, name string, schema *Schema) *Controller {
	method := schema.Method
	if method == "" {
		method = http.MethodPost
	}
	window := schema.Debounce
	if window <= 0 {
		window = defaultDebounce
	}
	step := schema.Step
	if step < 1 {
		step = 1
	}
	c := &Controller{
		store:          st,
		debounceWindow: window,
		name:           name,
		endpoint:       schema.Endpoint,
		method:         method,
		fields:         make(map[string]*Field, len(schema.Fields)),
		step:           step,
		resetAfter:     schema.Reset,
		persist:        schema.Persistent,
	}
	for fieldName, fieldSchema := range schema.Fields {
		c.fields[fieldName] = newField(c, fieldName, fieldSchema)
	}
	return c
}

// Name implements registry.Controller.
func (c *Controller) Name() string { c.mu.Lock(); defer c.mu.Unlock(); return c.name }

// Rename implements registry.Controller.
func (c *Controller) Rename(newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = newName
}

// Persistent implements registry.Controller.
func (c *Controller) Persistent() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.persist }

// Purge implements registry.Controller.
func (c *Controller) Purge() {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.purged = true
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	for _, f := range fields {
		f.purge()
	}
}

// Field returns the named field, nil when absent.
func (c *Controller) Field(name string) *Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields[name]
}

// FieldNames returns the declared field names, sorted.
func (c *Controller) FieldNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.fields))
	for name := range c.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddField declares a field after creation. An existing name is replaced.
func (c *Controller) AddField(name string, schema *FieldSchema) *Field {
	c.mu.Lock()
	if old := c.fields[name]; old != nil {
		defer old.purge()
	}
	f := newField(c, name, schema)
	c.fields[name] = f
	c.mu.Unlock()
	c.publishRawData()
	return f
}

// DelField removes a field, cancelling its validation.
func (c *Controller) DelField(name string) {
	c.mu.Lock()
	f := c.fields[name]
	delete(c.fields, name)
	c.mu.Unlock()
	if f != nil {
		f.purge()
		c.publishRawData()
	}
}

// Endpoint returns the form's endpoint path.
func (c *Controller) Endpoint() string { c.mu.Lock(); defer c.mu.Unlock(); return c.endpoint }

// SetEndpoint repoints the form.
func (c *Controller) SetEndpoint(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = endpoint
}

// Method returns the HTTP method used on submit.
func (c *Controller) Method() string { c.mu.Lock(); defer c.mu.Unlock(); return c.method }

// Sending reports whether a submit is in flight.
func (c *Controller) Sending() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.sending }

// SetSending overrides the sending flag. Useful in custom error handling
// that keeps the form locked across follow-up requests.
func (c *Controller) SetSending(sending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = sending
}

// Errors returns the form-level messages.
func (c *Controller) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// ClearErrors drops form-level and field-level messages.
func (c *Controller) ClearErrors() {
	c.mu.Lock()
	c.errors = nil
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	for _, f := range fields {
		f.ClearErrors()
	}
}

// Step returns the current wizard step.
func (c *Controller) Step() int { c.mu.Lock(); defer c.mu.Unlock(); return c.step }

// SetStep moves the wizard. Values below one clamp to one.
func (c *Controller) SetStep(step int) {
	if step < 1 {
		step = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// LastStep returns the highest step any field declares, at least one.
func (c *Controller) LastStep() int {
	c.mu.Lock()
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	last := 1
	for _, f := range fields {
		if s := f.Step(); s > last {
			last = s
		}
	}
	return last
}

// FailedSteps lists the steps containing fields with errors, ascending.
func (c *Controller) FailedSteps() []int {
	c.mu.Lock()
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	seen := map[int]bool{}
	var steps []int
	for _, f := range fields {
		if len(f.Errors()) == 0 {
			continue
		}
		if s := f.Step(); !seen[s] {
			seen[s] = true
			steps = append(steps, s)
		}
	}
	sort.Ints(steps)
	return steps
}

// StepSpec describes one wizard step for rendering.
type StepSpec struct {
	Failed   bool
	Complete bool
}

// Steps describes every step from one through LastStep.
func (c *Controller) Steps() map[int]StepSpec {
	failed := map[int]bool{}
	for _, s := range c.FailedSteps() {
		failed[s] = true
	}
	current := c.Step()
	out := make(map[int]StepSpec)
	for i := 1; i <= c.LastStep(); i++ {
		out[i] = StepSpec{
			Failed:   failed[i],
			Complete: current > i && !failed[i],
		}
	}
	return out
}

// RawData serializes the form: every field's value keyed by name, minus
// fields whose value matches their omit sentinel.
func (c *Controller) RawData() map[string]any {
	c.mu.Lock()
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	data := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.omitted() {
			continue
		}
		data[f.Name()] = f.Value()
	}
	return data
}

// OnRawData subscribes to serialized-payload changes. Value mutations
// that do not change the payload (same value written twice, a change
// within an omitted field) do not fire.
func (c *Controller) OnRawData(fn func(map[string]any)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// StopValidators cancels pending and in-flight validation on all fields.
func (c *Controller) StopValidators() {
	c.mu.Lock()
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	for _, f := range fields {
		f.CancelValidation()
	}
}

// Submit validates and sends the form. Fields in steps up to the current
// one must be error-free; otherwise a *ValidationError reports the
// failures without touching the network. A successful submit clears
// errors, and resets the form when the schema asked for it.
func (c *Controller) Submit(ctx context.Context) (json.RawMessage, error) {
	c.StopValidators()
	if verr := c.localValidationError(); verr != nil {
		return nil, verr
	}
	data := c.RawData()
	c.mu.Lock()
	c.sending = true
	opts := client.Options{Method: c.method, Path: c.endpoint, Data: data}
	c.mu.Unlock()

	raw, err := c.store.Client.Do(ctx, opts)

	c.mu.Lock()
	c.sending = false
	resetAfter := c.resetAfter
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if resetAfter {
		c.Reset()
	}
	c.ClearErrors()
	return raw, nil
}

// SubmitThen submits and hands the response to success. A failed submit
// with a server error body distributes the messages onto the form before
// returning.
func (c *Controller) SubmitThen(ctx context.Context, success func(json.RawMessage) error) error {
	raw, err := c.Submit(ctx)
	if err != nil {
		var status *client.StatusError
		if errors.As(err, &status) {
			c.SetErrorsFrom(status)
		}
		return err
	}
	return success(raw)
}

// SetErrorsFrom distributes a server error response: known-field messages
// onto their fields, everything else onto the form.
func (c *Controller) SetErrorsFrom(status *client.StatusError) {
	c.StopValidators()
	set := DeriveErrors(status, c.FieldNames())
	c.mu.Lock()
	c.errors = set.Errors
	c.sending = false
	c.mu.Unlock()
	for name, messages := range set.Fields {
		if f := c.Field(name); f != nil {
			f.SetErrors(messages)
		}
	}
}

// Reset restores every field to its initial value, clears messages, and
// returns to step one.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.step = 1
	c.errors = nil
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	for _, f := range fields {
		f.resetToInitial()
	}
	c.publishRawData()
}

func (c *Controller) localValidationError() *ValidationError {
	c.mu.Lock()
	step := c.step
	fields := c.fieldSliceLocked()
	c.mu.Unlock()
	verr := &ValidationError{Fields: map[string][]string{}}
	seen := map[int]bool{}
	for _, f := range fields {
		if f.Step() > step {
			continue
		}
		errs := f.Errors()
		if len(errs) == 0 {
			continue
		}
		verr.Fields[f.Name()] = errs
		if s := f.Step(); !seen[s] {
			seen[s] = true
			verr.Steps = append(verr.Steps, s)
		}
	}
	if len(verr.Fields) == 0 {
		return nil
	}
	sort.Ints(verr.Steps)
	return verr
}

// publishRawData notifies subscribers when, and only when, the serialized
// payload actually changed.
func (c *Controller) publishRawData() {
	data := c.RawData()
	c.mu.Lock()
	if c.purged || cmp.Equal(data, c.lastRaw) {
		c.mu.Unlock()
		return
	}
	c.lastRaw = data
	c.mu.Unlock()
	c.changes.Publish(data)
}

func (c *Controller) fieldSliceLocked() []*Field {
	fields := make([]*Field, 0, len(c.fields))
	for _, f := range c.fields {
		fields = append(fields, f)
	}
	return fields
}
