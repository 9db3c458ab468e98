// Package entry models content-store data as a tagged variant and strips
// store metadata from it.
//
// A decoded document is a tree of [Value]s:
//   - [Scalar]: strings, numbers, booleans and null
//   - [List]: an ordered sequence of values
//   - [*Entry]: a record wrapped in a store envelope (sys + fields)
//   - [Record]: a plain record without an envelope
//
// [Strip] turns any tree into one made only of Scalars, Lists and Records.
package entry
