// Package hl7 adapts HL7 v2 (ER7) segment streams.
//
// A stream holds any number of messages, each starting at an MSH segment.
// Segments end at CR, LF or CRLF, and MLLP framing bytes are dropped, so both
// files and captured MLLP traffic parse the same way. Parsing is lazy: the
// iterator reads one message per Next call and a grammar error in one message
// leaves the iterator positioned at the next MSH.
//
// Projection names the markup root after the message structure (MSH-9.3, else
// MSH-9.1_MSH-9.2) and emits fields as SEG.n, components as SEG.n.m and
// subcomponents as SEG.n.m.k. Repeated fields become repeated siblings. Empty
// fields are omitted.
package hl7
