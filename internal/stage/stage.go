// Package stage holds the contracts of the three pipeline stages and small
// reference implementations of each.
package stage

import "context"

// File is a changed file of a pull request. PreviousContent is nil for added
// files.
type File struct {
	Path            string  `json:"path"`
	Content         string  `json:"content"`
	PreviousContent *string `json:"previousContent,omitempty"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) Valid() bool {
	return s.rank() > 0
}

type ReviewInput struct {
	RepositoryID string
	PRNumber     int
	PRSha        string
	PRTitle      string
	Diff         string
	Files        []File
}

type Issue struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
}

type ReviewSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

type Review struct {
	ID        string        `json:"id"`
	Issues    []Issue       `json:"issues"`
	IsBlocked bool          `json:"isBlocked"`
	Summary   ReviewSummary `json:"summary"`
}

type ReviewGuard interface {
	Review(context.Context, ReviewInput) (*Review, error)
}

type CommitFile struct {
	Path          string
	Content       string
	CommitMessage string
}

type Detection struct {
	Path       string   `json:"path"`
	Confidence float64  `json:"confidence"`
	Methods    []string `json:"methods"`
}

type TestRequest struct {
	RepositoryID string
	PRNumber     int
	PRSha        string
	FilePath     string
	FileContent  string
}

type GeneratedTest struct {
	TestContent string `json:"testContent"`
	Framework   string `json:"framework"`
	Placement   string `json:"placement"`
}

type TestEngine interface {
	DetectAITouchedFiles(context.Context, string, []CommitFile) ([]Detection, error)
	GenerateTests(context.Context, TestRequest) (*GeneratedTest, error)
}

type DriftPrevention struct {
	Enabled bool   `json:"enabled"`
	Action  string `json:"action"`
	CheckOn string `json:"checkOn"`
}

type DriftPolicy struct {
	DriftPrevention DriftPrevention `json:"driftPrevention"`
	UpdateStrategy  string          `json:"updateStrategy"`
	Branch          string          `json:"branch,omitempty"`
}

type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

type DriftReport struct {
	IsBlocked        bool       `json:"isBlocked"`
	DriftDetected    bool       `json:"driftDetected"`
	MissingEndpoints []Endpoint `json:"missingEndpoints"`
	ChangedEndpoints []Endpoint `json:"changedEndpoints"`
}

type DocSync interface {
	CheckDrift(context.Context, string, string, DriftPolicy) (*DriftReport, error)
}
