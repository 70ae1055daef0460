// Package wire defines the message formats exchanged with the cloud
// event service.
//
// Two encodings are in play:
//
//   - The request/response envelope is JSON. Outbound messages carry
//     {uniqueId, action, payload}; inbound messages mirror that shape
//     and add a status field. Correlation is by uniqueId unless a
//     response-type override is used.
//
//   - Bulk device state travels as a base64-wrapped CBOR map keyed by
//     numeric device/record id. Each value is a positional array whose
//     meaning is defined solely by element index; the offset tables in
//     records.go are a contract with the remote protocol version.
//
// # Compatibility
//
// The positional format carries no field names and no version marker.
// If the remote service renumbers an offset, decoded values are silently
// wrong rather than failing to decode. Offsets must never be changed
// without coordinating with a service protocol release.
package wire
