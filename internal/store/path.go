package store

import (
	"fmt"
	"strings"
)

// Section selects which part of a node's output a Path reads.
type Section int

const (
	// SectionArtifact reads artifact fields. With Node set, only artifacts that
	// have results under that node are visited.
	SectionArtifact Section = iota
	SectionData
	SectionParameter
	SectionStatus
	SectionMessage
	SectionSummary
)

var sectionNames = map[Section]string{
	SectionArtifact:  "artifact",
	SectionData:      "data",
	SectionParameter: "parameter",
	SectionStatus:    "status",
	SectionMessage:   "message",
	SectionSummary:   "summary",
}

func (s Section) String() string {
	if name, ok := sectionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("section(%d)", int(s))
}

// Path is a parsed datapath such as "file_reputation_1:action_result.data.*.positives".
type Path struct {
	Node    string
	Section Section
	Field   []string
	raw     string
}

// String returns the textual form the path was parsed from.
func (p Path) String() string {
	return p.raw
}

// IsZero reports whether the path was never parsed.
func (p Path) IsZero() bool {
	return p.raw == ""
}

// ParsePath parses the textual datapath forms:
//
//	artifact:*.<field>
//	<node>:artifact:*.<field>
//	<node>:action_result.data.*.<field>
//	<node>:action_result.parameter.<field>
//	<node>:action_result.status
//	<node>:action_result.message
//	<node>:action_result.summary.<field>
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, fmt.Errorf("datapath is empty")
	}

	head, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Path{}, fmt.Errorf("datapath %q: missing source prefix", raw)
	}

	if head == "artifact" {
		field, err := parseArtifactField(rest)
		if err != nil {
			return Path{}, fmt.Errorf("datapath %q: %w", raw, err)
		}
		return Path{Section: SectionArtifact, Field: field, raw: raw}, nil
	}

	if strings.TrimSpace(head) == "" {
		return Path{}, fmt.Errorf("datapath %q: empty node name", raw)
	}
	p := Path{Node: head, raw: raw}

	if after, ok := strings.CutPrefix(rest, "artifact:"); ok {
		field, err := parseArtifactField(after)
		if err != nil {
			return Path{}, fmt.Errorf("datapath %q: %w", raw, err)
		}
		p.Section = SectionArtifact
		p.Field = field
		return p, nil
	}

	after, ok := strings.CutPrefix(rest, "action_result.")
	if !ok {
		return Path{}, fmt.Errorf("datapath %q: expected artifact: or action_result. after node name", raw)
	}
	parts := strings.Split(after, ".")
	switch parts[0] {
	case "data":
		p.Section = SectionData
		fields := parts[1:]
		if len(fields) > 0 && fields[0] == "*" {
			fields = fields[1:]
		}
		p.Field = fields
	case "parameter":
		p.Section = SectionParameter
		p.Field = parts[1:]
	case "summary":
		p.Section = SectionSummary
		p.Field = parts[1:]
	case "status":
		p.Section = SectionStatus
	case "message":
		p.Section = SectionMessage
	default:
		return Path{}, fmt.Errorf("datapath %q: unknown action_result section %q", raw, parts[0])
	}
	if (p.Section == SectionParameter || p.Section == SectionSummary) && len(p.Field) == 0 {
		return Path{}, fmt.Errorf("datapath %q: %s requires a field", raw, p.Section)
	}
	for _, f := range p.Field {
		if f == "" {
			return Path{}, fmt.Errorf("datapath %q: empty field segment", raw)
		}
	}
	return p, nil
}

// MustParsePath is ParsePath for static paths known to be valid.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func parseArtifactField(rest string) ([]string, error) {
	field, ok := strings.CutPrefix(rest, "*.")
	if !ok || field == "" {
		return nil, fmt.Errorf("artifact path must look like artifact:*.<field>")
	}
	parts := strings.Split(field, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("empty field segment")
		}
	}
	return parts, nil
}
