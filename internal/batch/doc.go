// Package batch partitions a task's segment list into bounded batches and
// runs them strictly sequentially. Batch size shrinks as jobs get longer or
// wider, capping concurrent disk usage and external-process load, and each
// completed batch emits a progress update before the next one starts.
package batch
