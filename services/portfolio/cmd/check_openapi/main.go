// Command check_openapi verifies that api/openapi.yaml documents exactly the
// routes the portfolio server registers and that every schema reference
// resolves.
package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"inkfolio/services/portfolio/internal/server"
)

var httpMethods = []string{"get", "put", "post", "delete", "patch", "head", "options"}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		exitErr(fmt.Errorf("read %s: %w", os.Args[1], err))
	}
	if err := check(raw, server.APIRoutes()); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

// check returns every problem found, joined.
func check(raw []byte, routes []string) error {
	var doc openAPIDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	var errs []error
	if err := validateErrorResponse(doc); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, compareRoutes(documentedRoutes(doc), routes)...)
	errs = append(errs, unresolvedRefs(doc, tree)...)
	return errors.Join(errs...)
}

func validateErrorResponse(doc openAPIDoc) error {
	s, ok := doc.Components.Schemas["ErrorResponse"]
	if !ok {
		return errors.New(`schema "ErrorResponse" missing`)
	}
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	if prop, ok := s.Properties["error"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	if prop, ok := s.Properties["code"]; ok && prop.Type != "string" {
		return errors.New("ErrorResponse.code must be string")
	}
	return nil
}

// documentedRoutes renders each operation as a ServeMux pattern.
func documentedRoutes(doc openAPIDoc) []string {
	var out []string
	for path, item := range doc.Paths {
		for key := range item {
			if slices.Contains(httpMethods, key) {
				out = append(out, strings.ToUpper(key)+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

func compareRoutes(documented, served []string) []error {
	doc := makeSet(documented)
	srv := makeSet(served)
	var errs []error
	for _, r := range sortedKeys(srv) {
		if !doc[r] {
			errs = append(errs, fmt.Errorf("route %q is served but not documented", r))
		}
	}
	for _, r := range sortedKeys(doc) {
		if !srv[r] {
			errs = append(errs, fmt.Errorf("route %q is documented but not served", r))
		}
	}
	return errs
}

func unresolvedRefs(doc openAPIDoc, tree any) []error {
	const prefix = "#/components/schemas/"
	var errs []error
	seen := map[string]bool{}
	walkRefs(tree, func(ref string) {
		name, ok := strings.CutPrefix(ref, prefix)
		if !ok || seen[ref] {
			return
		}
		seen[ref] = true
		if _, exists := doc.Components.Schemas[name]; !exists {
			errs = append(errs, fmt.Errorf("reference %q does not resolve", ref))
		}
	})
	return errs
}

func walkRefs(node any, visit func(string)) {
	switch n := node.(type) {
	case map[string]any:
		for key, v := range n {
			if ref, ok := v.(string); ok && key == "$ref" {
				visit(ref)
				continue
			}
			walkRefs(v, visit)
		}
	case []any:
		for _, v := range n {
			walkRefs(v, visit)
		}
	}
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
