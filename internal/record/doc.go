// Package record defines the values a collection holds: keys, key paths and
// record bodies.
//
// A record is any Go value that encodes to a JSON object. Its identity is the
// value found at the collection's key path (for example "id" or "meta.id"),
// which must be a string or a number. Strings and numbers never compare
// equal: "1" and 1 address different records.
//
// Bodies cross the backend boundary as canonical JSON:
//   - Object keys sorted by UTF-16 code units
//   - No HTML escaping
//   - Integers printed without exponent, other numbers in shortest form
//
// record imports nothing internal. Backends and the accessor both build on it.
package record
