// Package crawler defines the domain types and collaborator contracts shared
// by the drain pipeline: work items, extracted records, attempt outcomes, the
// failure taxonomy, and the store/engine/archive interfaces that concrete
// adapters implement.
package crawler
