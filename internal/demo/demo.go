// Package demo embeds the built-in demo phonebook used with --demo.
package demo

import (
	_ "embed"

	"github.com/fernspielapparat/fernspielapparat/internal/book"
)

//go:embed demo.yaml
var demoYAML string

// Book compiles a fresh copy of the embedded demo phonebook.
func Book() (*book.Book, error) {
	return book.FromString(demoYAML)
}
