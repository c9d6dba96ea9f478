// Package sarif validates and standardizes scanner output against the
// minimal SARIF 2.1.0 subset described in spec.md §4.3. Validation is
// purely structural; no schema is fetched over the network.
package sarif

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const Version = "2.1.0"

// ErrInvalid is wrapped by every structural validation failure.
var ErrInvalid = errors.New("sarif: invalid document")

// Document is the subset of a SARIF 2.1.0 log the gate understands.
// Unknown fields round-trip via json.RawMessage so standardization never
// discards scanner-specific extensions.
type Document struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

type Run struct {
	Tool       Tool        `json:"tool"`
	Results    []Result    `json:"results"`
	Properties interface{} `json:"properties,omitempty"`
}

type Tool struct {
	Driver Driver `json:"driver"`
}

type Driver struct {
	Name            string                 `json:"name"`
	Version         string                 `json:"version,omitempty"`
	InformationURI  string                 `json:"informationUri,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Rules           json.RawMessage        `json:"rules,omitempty"`
}

type Result struct {
	Message   Message    `json:"message"`
	Level     string     `json:"level,omitempty"`
	RuleID    string     `json:"ruleId,omitempty"`
	Locations []Location `json:"locations"`
}

type Message struct {
	Text string `json:"text"`
}

type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Parse decodes raw bytes into a Document without validating it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sarif: decode: %w", err)
	}
	return &doc, nil
}

// Validate enforces spec.md §4.3's required shape:
//
//	$schema, version == "2.1.0", non-empty runs;
//	each run: tool.driver.name non-empty, results array (possibly empty);
//	each result: message.text non-empty, locations non-empty, each
//	location's physicalLocation.artifactLocation.uri non-empty.
func Validate(doc *Document) error {
	if doc.Schema == "" {
		return fmt.Errorf("%w: missing $schema", ErrInvalid)
	}
	if doc.Version != Version {
		return fmt.Errorf("%w: version %q, want %q", ErrInvalid, doc.Version, Version)
	}
	if len(doc.Runs) == 0 {
		return fmt.Errorf("%w: runs is empty", ErrInvalid)
	}
	for ri, run := range doc.Runs {
		if run.Tool.Driver.Name == "" {
			return fmt.Errorf("%w: runs[%d].tool.driver.name is empty", ErrInvalid, ri)
		}
		for resi, res := range run.Results {
			if res.Message.Text == "" {
				return fmt.Errorf("%w: runs[%d].results[%d].message.text is empty", ErrInvalid, ri, resi)
			}
			if len(res.Locations) == 0 {
				return fmt.Errorf("%w: runs[%d].results[%d].locations is empty", ErrInvalid, ri, resi)
			}
			for li, loc := range res.Locations {
				if loc.PhysicalLocation.ArtifactLocation.URI == "" {
					return fmt.Errorf("%w: runs[%d].results[%d].locations[%d].artifactLocation.uri is empty", ErrInvalid, ri, resi, li)
				}
			}
		}
	}
	return nil
}

// Metadata describes the plugin that produced a Document; used to stamp
// the gsast properties block.
type Metadata struct {
	PluginID     string
	PluginName   string
	PluginVer    string
	PluginAuthor string
	InfoURI      string
}

// GsastVersion is stamped into every standardized document's properties.
// Bumped alongside releases of this module.
const GsastVersion = "1.0.0"

// nowFunc is overridable in tests; production uses time.Now.
var nowFunc = time.Now

// Standardize stamps driver name/version/informationUri from plugin
// metadata (when provided) and inserts driver.properties.gsast. It never
// alters doc.Runs[*].Results. Standardize is idempotent: re-applying it
// with the same metadata reproduces the same document, because the
// fields it touches are overwritten rather than appended to and a
// scanTimestamp already present in properties.gsast is kept.
func Standardize(doc *Document, meta Metadata) {
	for i := range doc.Runs {
		d := &doc.Runs[i].Tool.Driver
		if meta.PluginName != "" {
			d.Name = meta.PluginName
		}
		if meta.PluginVer != "" {
			d.Version = meta.PluginVer
		}
		if meta.InfoURI != "" {
			d.InformationURI = meta.InfoURI
		}
		if d.Properties == nil {
			d.Properties = map[string]interface{}{}
		}
		timestamp := nowFunc().UTC().Format(time.RFC3339)
		if existing, ok := d.Properties["gsast"].(map[string]interface{}); ok {
			if ts, ok := existing["scanTimestamp"].(string); ok && ts != "" {
				timestamp = ts
			}
		}
		d.Properties["gsast"] = map[string]interface{}{
			"pluginId":      meta.PluginID,
			"pluginAuthor":  meta.PluginAuthor,
			"scanTimestamp": timestamp,
			"gsastVersion":  GsastVersion,
		}
	}
}

// Marshal re-encodes a Document to bytes.
func Marshal(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}
