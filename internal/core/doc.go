// Package core provides the domain models for release-artifact post-processing.
//
// # Design Principles
//
// All structures in this package adhere to the following constraints:
//
//  1. Records are immutable once produced by the scanner
//  2. Ordering is deterministic so identical trees yield identical reports
//  3. Secret material never reaches a log line or a serialized report
//
// # Core Types
//
// ArtifactRecord: A classified file discovered under the build output root.
// TransformResult: The terminal outcome of one transform applied to one artifact.
// Credential: Certificate material used by signing backends.
//
// The package also owns the error taxonomy shared by every stage and the
// Executor used to invoke external signing tools.
package core
