package catalog

import (
	"context"
	"strings"
)

// RoutingTable maps a task category to model id substrings in order of
// preference.
type RoutingTable map[string][]string

// DefaultRoutingTable returns the built-in category routing.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		"reasoning":  {"deepseek", "qwen"},
		"creative":   {"llama", "gemma", "mistral"},
		"analytical": {"qwen", "deepseek", "nemotron"},
		"structured": {"deepseek", "qwen"},
	}
}

// ModelLister is satisfied by *Cache.
type ModelLister interface {
	FreeModels(ctx context.Context) []Descriptor
}

// Router picks a catalog model for a task category.
type Router struct {
	table  RoutingTable
	models ModelLister
}

func NewRouter(table RoutingTable, models ModelLister) *Router {
	if table == nil {
		table = DefaultRoutingTable()
	}
	return &Router{table: table, models: models}
}

// ResolveForTask returns the first catalog model whose id contains one of the
// category's patterns, trying patterns in table order. ok is false for an
// unknown category or when nothing matches; callers then use the default
// model.
func (r *Router) ResolveForTask(ctx context.Context, category string) (string, bool) {
	patterns := r.table[category]
	if len(patterns) == 0 {
		return "", false
	}
	models := r.models.FreeModels(ctx)
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		for _, m := range models {
			if strings.Contains(strings.ToLower(m.ID), p) {
				return m.ID, true
			}
		}
	}
	return "", false
}
