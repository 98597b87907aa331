package validate

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed dictionaries/*.json
var dictionaryFS embed.FS

// Dictionary holds the compiled field schemas, keyed by document-type slug.
// Schemas are compiled once at startup; lookup is a map read, no reflection.
type Dictionary struct {
	schemas map[string]*jsonschema.Schema
}

// LoadDictionaries compiles every embedded field dictionary.
func LoadDictionaries() (*Dictionary, error) {
	entries, err := fs.ReadDir(dictionaryFS, "dictionaries")
	if err != nil {
		return nil, fmt.Errorf("read dictionaries: %w", err)
	}

	d := &Dictionary{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		name := e.Name()
		slug := strings.TrimSuffix(name, ".json")
		raw, err := dictionaryFS.ReadFile("dictionaries/" + name)
		if err != nil {
			return nil, fmt.Errorf("read dictionary %s: %w", name, err)
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add dictionary %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile dictionary %s: %w", name, err)
		}
		d.schemas[slug] = schema
	}

	if _, ok := d.schemas["default"]; !ok {
		return nil, fmt.Errorf("default dictionary missing")
	}
	return d, nil
}

// SchemaFor returns the schema for a document-type slug, falling back to the
// default dictionary for unknown types.
func (d *Dictionary) SchemaFor(docType string) *jsonschema.Schema {
	if s, ok := d.schemas[docType]; ok {
		return s
	}
	return d.schemas["default"]
}

// Types lists the known document-type slugs.
func (d *Dictionary) Types() []string {
	out := make([]string, 0, len(d.schemas))
	for k := range d.schemas {
		out = append(out, k)
	}
	return out
}
