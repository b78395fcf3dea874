package main

import (
	"os"
	"strings"
	"testing"

	"inkfolio/services/portfolio/internal/server"
)

func TestShippedDocumentMatchesServer(t *testing.T) {
	raw, err := os.ReadFile("../../../../api/openapi.yaml")
	if err != nil {
		t.Fatalf("read openapi: %v", err)
	}
	if err := check(raw, server.APIRoutes()); err != nil {
		t.Fatalf("openapi drifted from the server:\n%v", err)
	}
}

func TestCheckReportsDrift(t *testing.T) {
	doc := `
components:
  schemas:
    ErrorResponse:
      type: object
      required: [error]
      properties:
        error:
          type: string
paths:
  /api/books:
    get:
      responses:
        "200":
          content:
            application/json:
              schema:
                $ref: "#/components/schemas/ContentItem"
  /api/legacy:
    parameters: []
    post: {}
`
	err := check([]byte(doc), []string{"GET /api/books", "DELETE /api/books/{id}"})
	if err == nil {
		t.Fatalf("expected drift to be reported")
	}
	for _, want := range []string{
		`"DELETE /api/books/{id}" is served but not documented`,
		`"POST /api/legacy" is documented but not served`,
		`"#/components/schemas/ContentItem" does not resolve`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in:\n%v", want, err)
		}
	}
	if strings.Contains(err.Error(), "PARAMETERS") {
		t.Fatalf("path-level parameters are not operations:\n%v", err)
	}
}

func TestErrorResponseShape(t *testing.T) {
	doc := `
components:
  schemas:
    ErrorResponse:
      type: object
      properties:
        error:
          type: string
`
	err := check([]byte(doc), nil)
	if err == nil || !strings.Contains(err.Error(), `must include "error"`) {
		t.Fatalf("expected missing required error field, got %v", err)
	}
}
