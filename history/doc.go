// Package history contains implementations of core.HistoryStore, the record
// of outcomes delivered to each conversation.
//
// InMemoryStore suits tests and single-process deployments; RedisStore keeps
// a capped list per conversation in Redis so history survives restarts.
package history
