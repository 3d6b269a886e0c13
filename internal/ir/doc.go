// Package ir holds the value representation shared by every other package:
// the sealed Value union used for entity keys and attributes, its RFC 8785
// canonical encoding, and the content hashes built on it.
//
// ir imports nothing internal. Key constraints:
//   - no float values; numbers are int64
//   - identities (fact ids, tuple keys, binding hashes) are always derived
//     from MarshalCanonical, never from json.Marshal
package ir
