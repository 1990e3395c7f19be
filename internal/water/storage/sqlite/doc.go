// Package sqlite persists pipeline runs and their outputs: area records,
// labeled point sets, fitted classifier models and accuracy reports.
//
// All SQL for the water domain lives here so the pipeline packages stay
// free of storage concerns. Stores take a *sql.DB opened by internal/db,
// whose migrations own the schema.
package sqlite
