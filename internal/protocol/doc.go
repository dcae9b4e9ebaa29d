// Package protocol defines the JSON message types exchanged between the
// hub and its agents. Every frame is a flat object with a "type" field;
// PeekKind reads that field without committing to a full decode.
package protocol
