// Package prompt loads named system prompts from a directory of markdown
// and text files. Keys are lowercased file stems, so "System.md" resolves
// as "system". An optional watcher reloads the store when files change.
package prompt
