// Package workflow provides loading and validation of IdLE workflow
// definitions.
//
// # Overview
//
// Workflow definitions are declarative, data-only documents (YAML or JSON)
// describing the steps of an identity lifecycle workflow. The loader runs a
// strict five-stage pipeline:
//
//  1. Parse into a generic string-keyed map
//  2. AssertNoExecutableContent: reject functions, channels, and unsafe
//     pointers at any depth
//  3. CUE schema validation (closed structs, unknown keys rejected)
//  4. Strict decode into Definition (unknown keys rejected again, named in
//     the error)
//  5. Struct-tag and condition validation
//
// # Components
//
// Loader: the document pipeline. Also parses lifecycle request documents for
// callers that accept requests as files.
//
// SchemaRegistry: compiles and holds the built-in CUE schemas; custom
// schemas can be registered.
//
// Registry: named definitions with directory loading, used by long-running
// processes that serve multiple workflows.
//
// Watcher: fsnotify-based hot reload of a workflow directory into a
// Registry. A definition that fails to reload keeps its previous version.
//
// # Security
//
// Documents are data. The guard walks every value to unbounded depth before
// anything else sees it, so executable content cannot reach handlers,
// providers, or session brokers through a workflow document or request.
package workflow
