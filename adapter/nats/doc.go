// Package nats provides a Broker backed by core NATS subjects.
//
// Core NATS delivery is at-most-once: a frame reaches whichever subscribers
// are connected when it is published, and no more. Durability and replay
// live in the log; the broker exists to wake consumers quickly.
package nats
