// Package core contains the outbound delivery domain: the delivery ledger
// state machine, the attempt engine, insights, risk ranking, redrive and
// backpressure. Transport adapters and persistence depend on this package;
// core must not depend on them.
package core
