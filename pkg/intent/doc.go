// Package intent defines the declarative resource intent documents operators
// submit and the schema validator that turns them into validated desired
// specs.
//
// Validation runs in two layers that feed a single issue list:
//
//  1. Structural - a CUE schema per resource kind catches unknown fields and
//     type mismatches in the raw document.
//  2. Semantic - the typed BudgetSpec/ContainerSpec structs are checked with
//     struct tags and cross-field rules (scaling bounds, threshold ordering,
//     port ranges, email syntax).
//
// Defaults declared for omitted optional fields (port 8000, currency USD,
// the standard alert thresholds) are applied before validation, so the
// canonical JSON handed to the engine always carries concrete values. A
// failed validation reports every violation found in one pass, never just
// the first.
//
// The validator is a pure function of the document: no side effects and no
// provider calls.
package intent
