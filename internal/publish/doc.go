// Package publish delivers the merged result. The merged file is
// compressed to the delivery codec, then routed by size: large results are
// uploaded to the object store and returned as a URL, small results are
// returned as raw bytes with the temp file removed.
package publish
