// Package workspace manages the private scratch directory for one task
// invocation. Every file the pipeline produces is registered with the
// workspace, and Cleanup removes all registered paths plus the directory
// itself, on the success and failure paths alike.
package workspace
