// cmd/formcheck validates CUE form schema files before they ship.
//
// It leverages the same loader the form engine uses at runtime, so
// anything formcheck accepts will load: endpoint and method problems,
// malformed fields, and unknown validator names are all reported with
// the file they came from.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matthewbaird/atelier/pkg/forms"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("formcheck: ")

	roots := os.Args[1:]
	if len(roots) == 0 {
		roots = []string{"."}
	}

	files := collectCUEFiles(roots)
	if len(files) == 0 {
		log.Fatal("no .cue files found")
	}

	problems := 0
	total := 0
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("reading %s: %v", file, err)
		}
		schemas, err := forms.LoadSchemas(source)
		if err != nil {
			fmt.Printf("%s: %v\n", file, err)
			problems++
			continue
		}
		names := make([]string, 0, len(schemas))
		for name := range schemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			problems += lintSchema(file, name, schemas[name])
		}
		total += len(schemas)
	}

	if problems > 0 {
		log.Fatalf("%d problem(s) in %d form(s)", problems, total)
	}
	fmt.Printf("formcheck: OK — %d form(s) across %d file(s)\n", total, len(files))
}

func lintSchema(file, name string, schema *forms.Schema) int {
	problems := 0
	report := func(format string, args ...any) {
		fmt.Printf("%s: form %q: %s\n", file, name, fmt.Sprintf(format, args...))
		problems++
	}

	if !strings.HasPrefix(schema.Endpoint, "/") {
		report("endpoint %q is not an absolute path", schema.Endpoint)
	}
	switch schema.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		report("unsupported method %q", schema.Method)
	}
	if len(schema.Fields) == 0 {
		report("declares no fields")
	}
	for fieldName, field := range schema.Fields {
		for _, spec := range field.Validators {
			if !forms.KnownValidator(spec.Name) {
				report("field %q: unknown validator %q", fieldName, spec.Name)
			}
		}
	}
	return problems
}

func collectCUEFiles(roots []string) []string {
	var files []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				base := d.Name()
				if base != "." && strings.HasPrefix(base, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == ".cue" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			log.Fatalf("walking %s: %v", root, err)
		}
	}
	sort.Strings(files)
	return files
}
