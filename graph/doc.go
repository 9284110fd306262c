// Package graph is the routing state machine of a turn. The coordinator node
// always runs first: it classifies the most recent human message and writes
// the chosen specialist and task type into the shared State. A single
// conditional edge then dispatches to exactly one terminal specialist node,
// which runs its agent over the full history and halts the graph.
//
// Routing is keyword based by default. Rules are evaluated in order and the
// first rule with a matching keyword wins; a message matching no rule goes
// to the fallback route. An optional model classifier can replace the
// keyword router, with the keyword router as its fallback.
package graph
