// Package merge combines processed segment files into one audio file using
// a chunked merge tree instead of a linear fold. Segments are concatenated
// in fixed-size chunks with a short silence pad between speaker turns, then
// the chunk files are reduced pairwise until one remains. Intermediate
// files are deleted as soon as they are consumed, so the number of live
// files stays bounded no matter how many segments a task has.
package merge
