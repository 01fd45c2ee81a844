// Package protocol owns the QMI wire vocabulary shared by the codec and the
// proxy components.
//
// Ownership boundary:
// - service and message id tables
// - error taxonomy roots (framing, bounds)
// - frame/ holds QMUX+QMI header primitives
// - tlv/ holds TLV payload primitives
package protocol
