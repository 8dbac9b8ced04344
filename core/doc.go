// Package core provides the foundational domain types and interfaces used by
// genrelay. It defines:
//
//   - Identifier and JobHandle (reply routing and backend correlation keys)
//   - Event, the closed set of job lifecycle events consumed by the engine
//   - Outcome, the closed set of results handed to the delivery stage
//   - Gate, the per-submitter admission control
//   - Small interfaces for backends, chat senders and persistence stores
//
// The package keeps implementation concerns (the correlation loop, concrete
// backends, chat front-ends) out of scope so they can be swapped and tested
// independently.
package core
