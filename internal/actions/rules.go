package actions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"soarbook/pkg/models"
)

var techniqueTagRegex = regexp.MustCompile(`^attack\.t\d{4}(?:\.\d{3})?$`)

var levelRank = map[string]int{"informational": 0, "low": 1, "medium": 2, "high": 3, "critical": 4}

// RulesLoadStats tracks loaded and skipped Sigma rules.
type RulesLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type compiledRule struct {
	eval      *sigmaevaluator.RuleEvaluator
	id        string
	title     string
	level     string
	tactic    string
	technique string
}

// Rules evaluates Sigma rules locally against the action parameters. Every
// action name is accepted; a rule hit counts as one positive.
type Rules struct {
	rules []compiledRule
}

// NewRules loads Sigma rules from a file or directory. Rules that need
// aggregation, timeframes or keyword searches are skipped and counted.
func NewRules(path string) (*Rules, RulesLoadStats, error) {
	var stats RulesLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !entry.IsDir() && isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	docs := make([][]byte, 0, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		docs = append(docs, raw)
	}
	r, loaded := NewRulesFromYAML(docs...)
	stats.TotalFiles = len(files)
	stats.Loaded = loaded.Loaded
	stats.SkippedComplex = loaded.SkippedComplex
	stats.SkippedInvalid += loaded.SkippedInvalid
	return r, stats, nil
}

// NewRulesFromYAML compiles rules from raw Sigma documents.
func NewRulesFromYAML(docs ...[]byte) (*Rules, RulesLoadStats) {
	stats := RulesLoadStats{TotalFiles: len(docs)}
	r := &Rules{}
	for _, raw := range docs {
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !isSimpleSingleEventRule(rule) {
			stats.SkippedComplex++
			continue
		}
		r.rules = append(r.rules, compileRule(rule))
		stats.Loaded++
	}
	return r, stats
}

// Run matches every rule against the flattened parameters.
func (r *Rules) Run(ctx context.Context, action string, params map[string]interface{}) (*models.ActionOutput, error) {
	event := flattenParams(params)

	var rows []map[string]interface{}
	highest := ""
	for _, rule := range r.rules {
		res, err := rule.eval.Matches(ctx, event)
		if err != nil || !res.Match {
			continue
		}
		rows = append(rows, map[string]interface{}{
			"rule_id":   rule.id,
			"title":     rule.title,
			"level":     rule.level,
			"tactic":    rule.tactic,
			"technique": rule.technique,
		})
		if highest == "" || levelRank[rule.level] > levelRank[highest] {
			highest = rule.level
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["rule_id"].(string) < rows[j]["rule_id"].(string)
	})

	summary := map[string]interface{}{
		"positives":     len(rows),
		"total_rules":   len(r.rules),
		"highest_level": highest,
	}
	out := &models.ActionOutput{
		Message: fmt.Sprintf("%s: %d of %d rule(s) matched", action, len(rows), len(r.rules)),
		Summary: summary,
	}
	// One row carrying the aggregate keeps data.*.positives addressable even
	// when nothing matched.
	out.Data = []map[string]interface{}{{
		"positives":     len(rows),
		"highest_level": highest,
		"matches":       rows,
	}}
	return out, nil
}

// flattenParams exposes nested maps as dotted keys alongside the originals.
func flattenParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	var walk func(prefix string, v interface{})
	walk = func(prefix string, v interface{}) {
		m, ok := v.(map[string]interface{})
		if !ok {
			out[prefix] = v
			return
		}
		for k, child := range m {
			walk(prefix+"."+k, child)
		}
	}
	for k, v := range params {
		if m, ok := v.(map[string]interface{}); ok {
			for ck, cv := range m {
				if _, taken := out[ck]; !taken {
					out[ck] = cv
				}
				walk(k+"."+ck, cv)
			}
			continue
		}
		out[k] = v
	}
	return out
}

func compileRule(rule sigma.Rule) compiledRule {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}
	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}
	tactic, technique := parseAttackTags(rule.Tags)
	return compiledRule{
		eval:      sigmaevaluator.ForRule(rule),
		id:        id,
		title:     strings.TrimSpace(rule.Title),
		level:     level,
		tactic:    tactic,
		technique: technique,
	}
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSimpleSingleEventRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil || !isSimpleSearchExpression(cond.Search) {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

func parseAttackTags(tags []string) (string, string) {
	var tactic, technique string
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		suffix, ok := strings.CutPrefix(tag, "attack.")
		if !ok {
			continue
		}
		if technique == "" && techniqueTagRegex.MatchString(tag) {
			technique = strings.ToUpper(strings.ReplaceAll(suffix, ".", "/"))
			continue
		}
		if tactic == "" && !strings.HasPrefix(suffix, "t") {
			tactic = strings.ReplaceAll(suffix, "_", "-")
		}
	}
	return tactic, technique
}
