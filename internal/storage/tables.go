// Package storage holds the table layout shared by the SQL store drivers.
package storage

import (
	"fmt"
	"regexp"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the relations a SQL store reads and writes.
type Tables struct {
	// Pending holds the work queue; one row per URL.
	Pending string `mapstructure:"pending"`
	// PendingFlag is the boolean column set when an item is retired by flag.
	PendingFlag string `mapstructure:"pending_flag"`
	// Results holds one row per item_url.
	Results string `mapstructure:"results"`
	Errors  string `mapstructure:"errors"`
	Runs    string `mapstructure:"runs"`
}

// DefaultTables returns the default table layout.
func DefaultTables() Tables {
	return Tables{
		Pending:     "pending_urls",
		PendingFlag: "scraped",
		Results:     "products",
		Errors:      "scrape_errors",
		Runs:        "scrape_runs",
	}
}

// WithDefaults fills empty names from DefaultTables.
func (t Tables) WithDefaults() Tables {
	d := DefaultTables()
	if t.Pending == "" {
		t.Pending = d.Pending
	}
	if t.PendingFlag == "" {
		t.PendingFlag = d.PendingFlag
	}
	if t.Results == "" {
		t.Results = d.Results
	}
	if t.Errors == "" {
		t.Errors = d.Errors
	}
	if t.Runs == "" {
		t.Runs = d.Runs
	}
	return t
}

// Validate rejects names that are not plain SQL identifiers. Table names are
// interpolated into statements, so this is the only guard against injection.
func (t Tables) Validate() error {
	for label, name := range map[string]string{
		"pending":      t.Pending,
		"pending_flag": t.PendingFlag,
		"results":      t.Results,
		"errors":       t.Errors,
		"runs":         t.Runs,
	} {
		if !validIdentifier.MatchString(name) {
			return fmt.Errorf("invalid %s table name %q", label, name)
		}
	}
	return nil
}
