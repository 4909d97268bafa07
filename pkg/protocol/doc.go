// Package protocol defines the wire-level types for the Model Context
// Protocol: JSON-RPC 2.0 envelopes, message-kind detection, and the
// typed parameters and results for the methods this client speaks
// (initialize, notifications/initialized, tools/list, tools/call,
// ping).
//
// Outbound requests carry monotonically increasing int64 ids minted by
// the owning session. Inbound ids are decoded as json.Number so a
// server echoing "1" and a server echoing 1 both correlate.
package protocol
