// Package broadcast is a live publish/subscribe hub for transition events.
//
// Connections subscribe to named channels ("jobs", "system"). A broadcast
// is marshalled once and placed on the bounded outbound queue of every
// subscriber of that channel without blocking. A full queue drops the
// message for that connection only; a failed send removes that connection
// only. Nothing is retained: a connection that subscribes after a message
// was broadcast never sees it.
//
// The WebSocket transport in ws.go adapts gobwas/ws connections to [Conn]
// and understands SUBSCRIBE and UNSUBSCRIBE control messages.
package broadcast
