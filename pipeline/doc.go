// Package pipeline manages pipeline configurations and turns datasource
// trigger events into sandboxed transformation runs, publishing one
// execution result event per pipeline.
package pipeline
