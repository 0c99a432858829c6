package rules

import (
	"regexp"
	"strings"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// matcher is a pure predicate from (field value, pattern) to bool.
type matcher func(value, pattern string) bool

var matchers = map[domain.MatchOperator]matcher{
	domain.OpContains: func(value, pattern string) bool {
		return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
	},
	domain.OpEquals: func(value, pattern string) bool {
		return strings.EqualFold(value, pattern)
	},
	domain.OpStartsWith: func(value, pattern string) bool {
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(pattern))
	},
	domain.OpRegex: func(value, pattern string) bool {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// invalid patterns never match; they must not poison a batch
			return false
		}
		return re.MatchString(value)
	},
}

// Matches evaluates a single condition. Unknown operators never match.
func Matches(value string, op domain.MatchOperator, pattern string) bool {
	m, ok := matchers[op]
	if !ok {
		return false
	}
	return m(value, pattern)
}

// fieldValue reads the condition field off a document. Unknown fields read
// as empty, which keeps stored rules from crashing evaluation.
func fieldValue(doc domain.Document, field domain.MatchField) string {
	switch field {
	case domain.FieldTitle:
		return doc.Title
	case domain.FieldContent:
		return doc.Content
	case domain.FieldCorrespondent:
		return doc.Correspondent
	case domain.FieldDocType:
		return doc.DocType
	default:
		return ""
	}
}

// ValidateRule checks caller input before a rule is saved.
func ValidateRule(rule domain.MatchingRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return domain.Validationf("rule name is required")
	}
	switch rule.Field {
	case domain.FieldTitle, domain.FieldContent, domain.FieldCorrespondent, domain.FieldDocType:
	default:
		return domain.Validationf("unknown rule field %q", rule.Field)
	}
	if _, ok := matchers[rule.Operator]; !ok {
		return domain.Validationf("unknown rule operator %q", rule.Operator)
	}
	if rule.Value == "" {
		return domain.Validationf("rule value is required")
	}
	return nil
}
