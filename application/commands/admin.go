package commands

import (
	"forumsearch/pkg/utils"
)

// InvalidateCacheCommand clears the registered aggregate keys of every
// namespace starting with Prefix. An empty prefix clears all of them.
type InvalidateCacheCommand struct {
	Prefix string `json:"prefix" validate:"max=32"`
}

// Validate validates the command
func (c InvalidateCacheCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// InvalidateCacheResult reports how many keys were cleared
type InvalidateCacheResult struct {
	Prefix  string `json:"prefix"`
	Cleared int    `json:"cleared"`
}

// ResetRateLimitCommand clears the window and block of one identifier
type ResetRateLimitCommand struct {
	Action     string `json:"action" validate:"required,oneof=search suggestions admin"`
	Identifier string `json:"identifier" validate:"required,max=128"`
}

// Validate validates the command
func (c ResetRateLimitCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// ResetRateLimitResult echoes the reset target
type ResetRateLimitResult struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	Reset      bool   `json:"reset"`
}
