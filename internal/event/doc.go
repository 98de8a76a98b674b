// Package event provides the multicast event channels that fan device events
// out to registered consumers.
//
// A Channel carries one fixed Shape: an ordered list of named parameters such
// as (can_id, can_data, is_extended_can_id, is_remote_transmission). Consumers
// subscribe with Register and receive only the parameters they declare:
//
//	                 Publish(7, data, false, true)
//	                              │
//	     ┌────────────────────────┼────────────────────────┐
//	     ▼                        ▼                        ▼
//	f(can_id)             g(can_data, rtr=?)          h(async)
//	   7                  data (rtr unknown,          handed to the
//	                      has default, ignored)       Scheduler
//
// # Signatures
//
// Channels do not know how to read parameter lists of a callable. An Inspector
// reports the Signature: declared names, which carry defaults, whether the
// callable is asynchronous, and the runtime exclusion that must be held while
// it runs. Registration fails with ErrInvalidSubscription when a declared
// parameter without default is not part of the shape.
//
// Adapters live elsewhere: package signature inspects Go functions, package
// script inspects Lua functions.
//
// # Delivery
//
// Publish walks the subscription list in registration order. Synchronous
// consumers run inline through a Runner; asynchronous ones are handed to a
// Scheduler and never block the publisher. A consumer that fails or panics is
// reported in the joined error Publish returns, and the remaining consumers
// still receive the event.
//
// # Concurrency
//
// Register and Publish may be called from any goroutine. Readers never lock;
// appends are serialized by a mutex that only writers take.
package event
