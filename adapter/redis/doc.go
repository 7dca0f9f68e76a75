// Package redis provides a Broker backed by Redis pub/sub.
//
// Redis pub/sub is fire-and-forget: messages published while a subscriber
// is disconnected are lost. That is exactly the contract of the broker
// path; durability comes from the log, which consumers tail. The broker
// only shortens the latency between an append and its consumers waking up.
package redis
