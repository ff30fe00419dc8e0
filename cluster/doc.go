// Package cluster implements the fixed memory pool that sample data
// is streamed into, along with the indices that decide what gets
// loaded next and what gets reclaimed first.
//
// Glossary and invariants:
//
//   - Slot
//
//     One cluster-sized region of the arena's backing store, plus metadata.
//     Only the [Arena] mutates slot metadata.
//
//   - Handle
//
//     Weak reference to a slot: index and generation.
//     The generation changes whenever a slot is stolen or deallocated,
//     so a handle can never observe somebody else's bytes.
//
//   - Reasons
//
//     Counted claims that keep a slot resident (reasons >= 0).
//     A slot with zero reasons is linked into exactly one stealable queue
//     (unless its kind is never stolen), while a slot with reasons is in none.
//
//   - Load queue
//
//     Dense array sorted ascending by priority; lower loads sooner.
//     Only slots in the enqueued state are present, each at most once.
//
// Counts:
//
//   - free + assigned == capacity.
//
//     Assigned slots never exceed the configured arena capacity.
package cluster
