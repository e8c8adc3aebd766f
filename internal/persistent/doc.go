// Package persistent is the alternate backend transport that keeps one SSE
// session open per (owner, backend) pair instead of re-initializing per call.
//
// A Client performs the two-step SSE handshake: GET /sse yields an "endpoint"
// event naming a session URL, and every JSON-RPC message is then POSTed there
// while responses arrive asynchronously on the stream and are matched by id.
// Its lifecycle is connecting, handshaking, ready, disconnected.
//
// The Manager satisfies the same Call contract as backend.Proxy, so the tool
// router can use either. Idle or dropped sessions are reaped by Manager.Run.
package persistent
