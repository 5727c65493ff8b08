// Package events defines the dispatch related events emitted on the event bus.
//
// Available event types:
//   - PassCompleted: an optimization pass finished
//   - LoadReserved: a load was reserved to a driver
//   - LoadReleased: a reservation was released (expiry, rejection, rebalancing)
//   - LoadStarted and LoadCompleted: a driver progressed a load
//   - ShiftStarted and ShiftEnded: a driver went on or off shift
package events
