// Package agent implements the conversational role runtime. An Agent owns a
// model, a directive and a tool Set bound to one user; Invoke runs the
// call-and-splice loop: ask the model, execute the requested tool, append the
// call and its result to the history, and repeat until the model answers
// without a tool call or the iteration budget is spent.
//
// The agent performs no tool selection of its own. Which tool runs is
// decided by the model; the directive only influences that choice.
package agent
