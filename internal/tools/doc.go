// Package tools is the registry of named operations exposed over /tools/call.
//
// Each Descriptor pairs a tool name with a JSON Schema for its arguments and
// a handler. Schemas are compiled once at registration; validation rejects
// missing required fields, wrong types, and unexpected extra fields, and
// reports every offending field so clients can fix a call in one round trip.
// The registry holds no business logic for any individual tool; handlers
// live with the descriptors in builtin.go and call into the store.
package tools
