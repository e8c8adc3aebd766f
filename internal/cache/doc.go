// Package cache provides the expiring key/value layer that sits in front of
// persistent backend sessions.
//
// Memory is the default single-process implementation. Redis shares entries
// between gateway replicas when cache.redis_url is configured.
package cache
