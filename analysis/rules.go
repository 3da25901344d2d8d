package analysis

import (
	"strings"

	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

const (
	ClassAttributeRuleName = "class-attribute"
	DuplicateIDRuleName    = "duplicate-id"

	ClassAttributeCode = 12

	DefaultClassAttributeMessage = "class attributes are not allowed"
	// {id} is replaced with the duplicated value.
	DefaultDuplicateIDMessage = `duplicate id "{id}"`
)

// Rule inspects attribute nodes and reports findings to the pass.
// Implementations must not keep per-document state of their own; anything
// that has to survive between attributes belongs to the Pass.
type Rule interface {
	Info() RuleInfo
	CheckAttribute(pass *Pass, attr *markup.Attribute)
}

// RuleInfo describes a rule for listings and configuration.
type RuleInfo struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Code        *int                   `json:"code,omitempty" yaml:"code,omitempty"`
	Severity    lsp.DiagnosticSeverity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message     string                 `json:"message" yaml:"message"`
}

// ClassAttributeRule rejects every attribute named exactly "class". A nil
// Code leaves the diagnostic without a code.
type ClassAttributeRule struct {
	Severity lsp.DiagnosticSeverity
	Code     *int
	Message  string
}

func NewClassAttributeRule() *ClassAttributeRule {
	code := ClassAttributeCode
	return &ClassAttributeRule{
		Severity: lsp.DiagnosticSeverityError,
		Code:     &code,
		Message:  DefaultClassAttributeMessage,
	}
}

func (r *ClassAttributeRule) Info() RuleInfo {
	return RuleInfo{
		Name:        ClassAttributeRuleName,
		Description: "Inline class attributes are not allowed.",
		Code:        r.Code,
		Severity:    r.Severity,
		Message:     r.Message,
	}
}

func (r *ClassAttributeRule) CheckAttribute(pass *Pass, attr *markup.Attribute) {
	if attr.Name != "class" {
		return
	}

	diag := lsp.Diagnostic{
		Range:    pass.Range(attr.Span),
		Severity: r.Severity,
		Source:   pass.Source,
		Message:  r.Message,
	}
	if r.Code != nil {
		diag.Code = *r.Code
	}
	pass.Report(diag)
}

// DuplicateIDRule flags every id value that already appeared earlier in
// the document. The first occurrence of a value is never flagged.
type DuplicateIDRule struct {
	Severity lsp.DiagnosticSeverity
	Message  string
}

func NewDuplicateIDRule() *DuplicateIDRule {
	return &DuplicateIDRule{Message: DefaultDuplicateIDMessage}
}

func (r *DuplicateIDRule) Info() RuleInfo {
	return RuleInfo{
		Name:        DuplicateIDRuleName,
		Description: "An id value must be unique within the document.",
		Severity:    r.Severity,
		Message:     r.Message,
	}
}

func (r *DuplicateIDRule) CheckAttribute(pass *Pass, attr *markup.Attribute) {
	if attr.Name != "id" || !attr.HasValue() {
		return
	}

	value := *attr.Value
	if !pass.MarkID(value) {
		return
	}

	pass.Report(lsp.Diagnostic{
		Range:    pass.Range(attr.Span),
		Severity: r.Severity,
		Message:  strings.ReplaceAll(r.Message, "{id}", value),
	})
}

// DefaultRules returns fresh instances of every built-in rule with their
// default settings.
func DefaultRules() []Rule {
	return []Rule{
		NewClassAttributeRule(),
		NewDuplicateIDRule(),
	}
}

// RuleNames lists the names of the built-in rules.
func RuleNames() []string {
	return []string{ClassAttributeRuleName, DuplicateIDRuleName}
}
