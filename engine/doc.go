// Package engine is the turn entry point of bankmesh.
//
// RouteAndRespond runs one turn through the routing graph, persists the
// resulting trace and returns the answer. A content-policy rejection raised
// by the model is recorded through the safety handler and answered with a
// refusal instead of an error.
//
// Each turn builds fresh specialist agents whose tools are bound to the
// turn's user:
//
//	account_agent, transaction_agent  banking tools and query_database
//	support_agent                     search_support_documents
//	any other configured target       all of the above
//
// The engine also serves the session operations of the operator CLI:
// ConversationHistory, ClearChatHistory and PurgeSession.
package engine
