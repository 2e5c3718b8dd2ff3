// Package server is the HTTP surface and per-request dispatcher for gatekeep.
//
// Each request moves through a fixed sequence of states: authenticate the
// bearer token, run the rate-limit check, resolve the tool, validate its
// arguments, execute (through the nlq gate for the natural-language tool),
// and respond. No state is skipped; any failure is terminal and is written
// as a structured error envelope {"error": {"kind", "message", "details"}}.
//
// The throttle check runs whether or not authentication succeeded, so a
// rate-limit bypass can never ride on an auth failure and vice versa.
// Unexpected faults map to InternalFailure with the detail logged, never
// exposed.
package server
