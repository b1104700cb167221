// Package osc decodes and encodes OSC 1.0 messages.
//
// Only single messages are supported; bundles are not. Every string field is
// NUL-terminated and zero-padded to a multiple of four bytes, and integers and
// floats are big-endian.
//
// Supported argument tags:
//
//	i  32-bit signed integer
//	f  32-bit IEEE-754 float
//	s  UTF-8 string
//	b  blob (4-byte length prefix followed by raw bytes)
//
// Unknown tags are kept in Message.TypeTags but consume no bytes and produce no
// argument, so len(Arguments) equals the number of supported tags:
//
//	msg, err := osc.Decode(datagram, "127.0.0.1", 57120)
//	if err != nil {
//	    var de *osc.DecodeError
//	    if errors.As(err, &de) {
//	        log.Debug("bad datagram", "reason", de.Reason, "offset", de.Offset)
//	    }
//	}
package osc
