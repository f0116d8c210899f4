// Package session moves WMI messages between the host and a firmware
// transport.
//
// Inbound, a Receiver queues raw frames from a single producer and a
// single worker processes them in arrival order. Outbound, a
// CommandSender caps the number of commands in flight and hands each
// submission a Ticket whose completion releases its slot exactly once.
package session
