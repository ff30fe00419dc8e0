// Package streamsynth is the audio core of a sample-streaming synthesizer:
// a render scheduler that keeps a hardware transport fed, together with the
// cluster arena that streams waveform bytes from slow storage through a fixed
// pool of memory.
//
// The following is a summary (intended for maintainers)
// of the moving parts and how they relate.
//
// Glossary and invariants:
//
//   - Cluster
//
//     Fixed-size (power of two) block of audio-related bytes.
//     The unit of storage streaming and of eviction.
//
//   - Reason
//
//     A counted claim that a cluster must stay resident.
//     A cluster with zero reasons keeps its bytes until it is actually stolen.
//
//   - Stealing
//
//     Reclaiming a zero-reason cluster to satisfy a new allocation.
//     Stealing bumps the slot generation, so every handle to the old contents goes stale.
//
//   - Stealable queue
//
//     Per-category list of zero-reason clusters, least valuable first.
//
//   - Direness
//
//     Adaptive CPU pressure level in [0, 14].
//     Drives culling aggressiveness and interpolation quality.
//
//   - Culling
//
//     Forcibly stopping (or fast releasing) a voice to shed load.
//
// Contexts:
//
//   - render
//
//     [render.Scheduler.Routine] runs once per transport slot and must never block.
//     Missing sample data renders as silence.
//
//   - idle
//
//     [cluster.Loader.LoadAnyEnqueued] populates clusters from storage between render passes.
//     The two contexts interleave cooperatively; neither type is safe for concurrent use.
//
// Errors:
//
//   - Environmental failures are returned as values wrapping one of the kinds in this package.
//
//   - Internal consistency violations panic with a [*ConsistencyError].
package streamsynth
