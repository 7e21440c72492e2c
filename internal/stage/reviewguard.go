package stage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/zricethezav/gitleaks/v8/detect"
)

type reviewRule struct {
	id       string
	severity Severity
	pattern  *regexp.Regexp
	message  string
}

var reviewRules = []reviewRule{
	{
		id:       "sql-string-interpolation",
		severity: SeverityCritical,
		pattern:  regexp.MustCompile(`(?i)\b(select|insert\s+into|update|delete\s+from)\b.*(\$\{|["']\s*\+|\+\s*["']|%s)`),
		message:  "SQL query built from interpolated input, use parameters instead",
	},
	{
		id:       "eval-usage",
		severity: SeverityHigh,
		pattern:  regexp.MustCompile(`\beval\s*\(`),
		message:  "eval executes arbitrary code",
	},
	{
		id:       "inner-html-assignment",
		severity: SeverityMedium,
		pattern:  regexp.MustCompile(`\.innerHTML\s*=`),
		message:  "assigning innerHTML may allow cross-site scripting",
	},
	{
		id:       "weak-hash",
		severity: SeverityMedium,
		pattern:  regexp.MustCompile(`(?i)(createHash\(\s*["'](md5|sha1)["']|\bmd5\.New\(|\bsha1\.New\(|hashlib\.(md5|sha1)\()`),
		message:  "weak hash algorithm",
	},
	{
		id:       "debug-logging",
		severity: SeverityLow,
		pattern:  regexp.MustCompile(`\bconsole\.log\(`),
		message:  "debug logging left in code",
	},
}

// RuleReviewGuard reviews changed files with a fixed rule set and the gitleaks
// default secret rules. A review is blocked when any issue is at least as
// severe as BlockAt.
type RuleReviewGuard struct {
	BlockAt Severity
}

func NewRuleReviewGuard(blockAt Severity) *RuleReviewGuard {
	if !blockAt.Valid() {
		blockAt = SeverityHigh
	}
	return &RuleReviewGuard{BlockAt: blockAt}
}

func (rg *RuleReviewGuard) Review(ctx context.Context, input ReviewInput) (*Review, error) {
	// the detector accumulates findings, so one is created per review
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("err creating secret detector: %w", err)
	}

	issues := make([]Issue, 0)
	for _, f := range input.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		issues = append(issues, matchRules(f)...)
		for _, finding := range detector.DetectString(f.Content) {
			issues = append(issues, Issue{
				RuleID:   "secret:" + finding.RuleID,
				Severity: SeverityCritical,
				Path:     f.Path,
				Line:     finding.StartLine,
				Message:  finding.Description,
			})
		}
	}

	review := &Review{
		ID:     uuid.NewString(),
		Issues: issues,
	}
	for _, i := range issues {
		review.Summary.add(i.Severity)
		if i.Severity.AtLeast(rg.BlockAt) {
			review.IsBlocked = true
		}
	}
	return review, nil
}

func matchRules(f File) []Issue {
	var issues []Issue
	for n, line := range strings.Split(f.Content, "\n") {
		for _, rule := range reviewRules {
			if rule.pattern.MatchString(line) {
				issues = append(issues, Issue{
					RuleID:   rule.id,
					Severity: rule.severity,
					Path:     f.Path,
					Line:     n + 1,
					Message:  rule.message,
				})
			}
		}
	}
	return issues
}

func (s *ReviewSummary) add(severity Severity) {
	s.Total++
	switch severity {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	case SeverityLow:
		s.Low++
	}
}
