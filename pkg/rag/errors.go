// Copyright 2025 The Maestro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import "fmt"

// Parse error kinds.
const (
	ParseKindUnsupported = "unsupported"
	ParseKindCorrupt     = "corrupt"
)

// ParseError reports a document that could not be turned into text.
// Ingestion skips affected documents and counts them in the run
// summary.
type ParseError struct {
	Kind string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Kind)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Index error kinds.
const (
	IndexKindDimMismatch  = "dim_mismatch"
	IndexKindCorruptStore = "corrupt_store"
)

// IndexError reports a vector index failure. dim_mismatch is a caller
// bug; corrupt_store at open time falls back to an empty index.
type IndexError struct {
	Kind string
	Err  error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index: %s: %v", e.Kind, e.Err)
	}
	return "index: " + e.Kind
}

func (e *IndexError) Unwrap() error {
	return e.Err
}
