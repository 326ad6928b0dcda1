package queries

import (
	"strings"

	"forumsearch/pkg/utils"
)

// SearchQuery runs a search on behalf of a caller identity
type SearchQuery struct {
	Query      string         `json:"query" validate:"required,max=256"`
	Filters    map[string]any `json:"filters,omitempty"`
	Limit      int            `json:"limit" validate:"gte=0,lte=100"`
	Identifier string         `json:"-" validate:"required"`
}

// Validate validates the SearchQuery
func (q SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	return utils.ValidateStruct(q)
}

// SuggestionsQuery asks for completions of a prefix
type SuggestionsQuery struct {
	Prefix     string `json:"prefix" validate:"required,max=64"`
	Identifier string `json:"-" validate:"required"`
}

// Validate validates the SuggestionsQuery
func (q SuggestionsQuery) Validate() error {
	q.Prefix = strings.TrimSpace(q.Prefix)
	return utils.ValidateStruct(q)
}
