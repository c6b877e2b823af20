package traffic

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is a named detection pattern evaluated against every serialized
// message. Each rule may produce zero or more findings per entry.
type Rule struct {
	// Name identifies the rule in findings and stats.
	Name string
	// Pattern is the compiled regular expression.
	Pattern *regexp.Regexp
	// Severity grades matches of this rule.
	Severity Severity
	// Description explains what a match means.
	Description string
}

// ParseFailureRule is the finding category attached to messages that failed
// envelope validation. It carries no pattern: parse failures are flagged by
// the recorder, not by scanning.
const ParseFailureRule = "parse-error"

// DefaultRules is the built-in detection table, evaluated in order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "api-key-leak",
			Pattern:     regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{32,}|api_?key[:=]\s*['"]?[a-zA-Z0-9_-]{20,})`),
			Severity:    SeverityCritical,
			Description: "API key or secret token exposed in message",
		},
		{
			Name:        "flag-leak",
			Pattern:     regexp.MustCompile(`ARENA\{[^}]+\}`),
			Severity:    SeverityHigh,
			Description: "Challenge flag discovered",
		},
		{
			Name:        "password-exposure",
			Pattern:     regexp.MustCompile(`(?i)password[:=]\s*['"]?[a-zA-Z0-9_@!#$%^&*]{6,}`),
			Severity:    SeverityCritical,
			Description: "Password leaked in message",
		},
		{
			Name:        "sql-injection",
			Pattern:     regexp.MustCompile(`(?i)(union\s+select|or\s+1\s*=\s*1|';--)`),
			Severity:    SeverityMedium,
			Description: "Potential SQL injection payload detected",
		},
		{
			Name:        "command-injection",
			Pattern:     regexp.MustCompile("(?i)(;\\s*cat\\s+|;\\s*ls\\s+|\\|\\s*cat\\s+|\\$\\(.*\\)|`.*`)"),
			Severity:    SeverityHigh,
			Description: "Shell command injection attempt",
		},
		{
			Name:        "path-traversal",
			Pattern:     regexp.MustCompile(`\.\./|\.\.\\`),
			Severity:    SeverityMedium,
			Description: "Path traversal attempt detected",
		},
	}
}

// ruleFile is the on-disk YAML schema for additional detection rules.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`
}

// LoadRulesFile reads additional detection rules from a YAML file.
// Loaded rules are appended after the built-in table.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		if entry.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		pattern, err := regexp.Compile(entry.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", entry.Name, err)
		}
		severity := Severity(entry.Severity)
		switch severity {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		case "":
			severity = SeverityMedium
		default:
			return nil, fmt.Errorf("rule %q: unknown severity %q", entry.Name, entry.Severity)
		}
		rules = append(rules, Rule{
			Name:        entry.Name,
			Pattern:     pattern,
			Severity:    severity,
			Description: entry.Description,
		})
	}
	return rules, nil
}
