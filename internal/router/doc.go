// Package router dispatches tools/call requests by namespace.
//
// Tool names have the form "namespace:tool", split on the first colon, so
// "a:b:c" calls tool "b:c" in namespace "a". A bare name belongs to the
// gateway's own namespace. Calls in that namespace run a built-in tool; every
// other namespace is a backend slug handed to the Backend (the proxy, or the
// persistent connection manager when enabled).
//
// Route never returns an error. Failures become a Result with IsError set and
// an "Error: " prefixed message, and every call, successful or not, is written
// to the usage log. Usage log failures are logged and dropped.
package router
