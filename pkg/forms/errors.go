package forms

import (
	"sort"
	"strings"

	"github.com/matthewbaird/atelier/pkg/client"
)

const (
	// supportPrefix fronts messages for server errors naming a field the
	// form does not declare. Such an error is a client bug, not user
	// error, so the user is pointed at support.
	supportPrefix = "Whoops! We had a coding error. Please contact support and tell them the following: "
	// serverIssueMessage covers responses with no usable error body.
	serverIssueMessage = "We had an issue contacting the server. Please try again later!"
)

// ValidationError reports a submit blocked by local field errors.
type ValidationError struct {
	// Fields maps each failing field to its messages.
	Fields map[string][]string
	// Steps lists the steps containing failing fields, ascending.
	Steps []int
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "forms: validation failed on " + strings.Join(names, ", ")
}

// ErrorSet is a server error response split into per-field messages and
// form-level messages.
type ErrorSet struct {
	Fields map[string][]string
	Errors []string
}

// DeriveErrors splits a failed response body among known fields. A
// "detail" key and any unknown field become form-level messages; unknown
// fields get the support prefix since they indicate a field the form
// forgot to declare.
func DeriveErrors(status *client.StatusError, knownFields []string) ErrorSet {
	set := ErrorSet{Fields: map[string][]string{}}
	detail, fields := status.Payload()
	if detail == "" && len(fields) == 0 {
		set.Errors = []string{serverIssueMessage}
		return set
	}
	known := make(map[string]bool, len(knownFields))
	for _, name := range knownFields {
		known[name] = true
	}
	if detail != "" {
		set.Errors = append(set.Errors, detail)
	}
	unknown := make([]string, 0)
	for name := range fields {
		if known[name] {
			set.Fields[name] = fields[name]
		} else {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		set.Errors = append(set.Errors, supportPrefix+name+": "+strings.Join(fields[name], " "))
	}
	return set
}
