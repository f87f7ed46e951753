// Package value models the five SQLite storage classes as a closed union.
//
// A Value is exactly one of Null, Integer, Real, Text or Blob. Values are
// immutable and comparable, so they work as map keys; the change reporter
// relies on this to keep sets of changed primary keys.
//
// Values cross three boundaries:
//   - Go → Value through FromNative, which accepts a closed set of types
//   - Value → driver through Native
//   - Value ↔ SQL text through Literal and ParseLiteral
package value
