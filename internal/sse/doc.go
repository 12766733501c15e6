// Package sse maps client sessions to connection tokens held by an external
// SSE gateway and delivers events to them over HTTP.
//
// The gateway owns the long-lived client connections. It reports connects
// and disconnects through callbacks (OnConnect, OnDisconnect) and accepts
// send/close commands on POST <gateway>/internal/send. Delivery is best
// effort: every gateway failure degrades to a false return.
package sse
