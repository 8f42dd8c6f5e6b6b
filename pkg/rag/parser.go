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

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Section is one heading-delimited part of a markdown document.
type Section struct {
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

// Document is the parsed form of a source file.
type Document struct {
	Text       string              `json:"text"`
	Sections   []Section           `json:"sections,omitempty"`
	Structured []map[string]string `json:"structured,omitempty"`
}

// SupportedExtensions lists the file types ingestion accepts.
var SupportedExtensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".csv", ".json"}

// Supported reports whether the path's extension has a parser.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Parse turns raw file bytes into text, dispatching on the path's
// extension.
func Parse(data []byte, path string) (*Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return &Document{Text: string(data)}, nil
	case ".md":
		return parseMarkdown(data), nil
	case ".pdf":
		return parsePDF(data, path)
	case ".docx":
		return parseDocx(data, path)
	case ".xlsx":
		return parseXLSX(data, path)
	case ".csv":
		return parseCSV(data, path)
	case ".json":
		return parseJSON(data, path)
	default:
		return nil, &ParseError{Kind: ParseKindUnsupported, Path: path}
	}
}

// parseMarkdown splits on #-prefixed headings into sections. Text
// before the first heading becomes an untitled section.
func parseMarkdown(data []byte) *Document {
	var sections []Section
	current := Section{}
	var body strings.Builder

	flush := func() {
		current.Text = strings.TrimSpace(body.String())
		if current.Heading != "" || current.Text != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			current = Section{Heading: strings.TrimSpace(strings.TrimLeft(line, "#"))}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()

	var text strings.Builder
	for _, s := range sections {
		if s.Heading != "" {
			text.WriteString(s.Heading)
			text.WriteString("\n")
		}
		text.WriteString(s.Text)
		text.WriteString("\n\n")
	}
	return &Document{Text: strings.TrimSpace(text.String()), Sections: sections}
}

// parsePDF extracts page-wise text with [Page N] markers.
func parsePDF(data []byte, path string) (*Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Kind: ParseKindCorrupt, Path: path, Err: err}
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("[Page %d]\n%s", pageNum, text))
		}
	}
	return &Document{Text: strings.Join(parts, "\n\n")}, nil
}

// parseDocx extracts paragraph text from a word-processor document.
func parseDocx(data []byte, path string) (*Document, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Kind: ParseKindCorrupt, Path: path, Err: err}
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	return &Document{Text: stripXMLTags(content)}, nil
}

// parseXLSX renders each sheet's non-empty cells as "ref: value" lines.
func parseXLSX(data []byte, path string) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Kind: ParseKindCorrupt, Path: path, Err: err}
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[Sheet %s]\n", sheet)
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, " | "))
				b.WriteByte('\n')
			}
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}
	return &Document{Text: strings.Join(parts, "\n\n")}, nil
}

// parseCSV renders each row as "header: value" lines and retains the
// structured rows.
func parseCSV(data []byte, path string) (*Document, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, &ParseError{Kind: ParseKindCorrupt, Path: path, Err: err}
	}
	if len(records) == 0 {
		return &Document{}, nil
	}

	header := records[0]
	var rows []map[string]string
	var text strings.Builder

	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i >= len(header) {
				break
			}
			key := strings.TrimSpace(header[i])
			value = strings.TrimSpace(value)
			row[key] = value
			if value != "" {
				fmt.Fprintf(&text, "%s: %s\n", key, value)
			}
		}
		rows = append(rows, row)
		text.WriteByte('\n')
	}

	return &Document{
		Text:       strings.TrimSpace(text.String()),
		Structured: rows,
	}, nil
}

// parseJSON flattens the document into "key: value" lines with dotted
// paths for nested objects.
func parseJSON(data []byte, path string) (*Document, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, &ParseError{Kind: ParseKindCorrupt, Path: path, Err: err}
	}

	flat := make(map[string]string)
	flattenJSON("", value, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var text strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&text, "%s: %s\n", k, flat[k])
	}
	return &Document{Text: strings.TrimSpace(text.String())}, nil
}

func flattenJSON(prefix string, value any, out map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenJSON(key, child, out)
		}
	case []any:
		for i, child := range v {
			flattenJSON(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

// stripXMLTags removes markup left behind by the docx content
// extractor.
func stripXMLTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
