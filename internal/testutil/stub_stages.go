package testutil

import (
	"context"
	"sync"

	"github.com/haatos/readycheck/internal/stage"
)

type StubReviewGuard struct {
	mu     sync.Mutex
	Result *stage.Review
	Err    error
	Inputs []stage.ReviewInput
}

func (s *StubReviewGuard) Review(ctx context.Context, input stage.ReviewInput) (*stage.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inputs = append(s.Inputs, input)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &stage.Review{ID: "review", Issues: []stage.Issue{}}, nil
	}
	r := *s.Result
	return &r, nil
}

// StubTestEngine detects Detections and fails generation for the paths in
// GenerateErrs.
type StubTestEngine struct {
	mu           sync.Mutex
	Detections   []stage.Detection
	DetectErr    error
	GenerateErrs map[string]error
	Requests     []stage.TestRequest
}

func (s *StubTestEngine) DetectAITouchedFiles(
	ctx context.Context,
	repositoryID string,
	files []stage.CommitFile,
) ([]stage.Detection, error) {
	if s.DetectErr != nil {
		return nil, s.DetectErr
	}
	return s.Detections, nil
}

func (s *StubTestEngine) GenerateTests(ctx context.Context, req stage.TestRequest) (*stage.GeneratedTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if err := s.GenerateErrs[req.FilePath]; err != nil {
		return nil, err
	}
	return &stage.GeneratedTest{TestContent: "test", Framework: "jest", Placement: req.FilePath + ".test"}, nil
}

type StubDocSync struct {
	mu     sync.Mutex
	Report *stage.DriftReport
	Err    error
	Refs   []string
}

func (s *StubDocSync) CheckDrift(
	ctx context.Context,
	repositoryID, ref string,
	policy stage.DriftPolicy,
) (*stage.DriftReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Refs = append(s.Refs, ref)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Report == nil {
		return &stage.DriftReport{MissingEndpoints: []stage.Endpoint{}, ChangedEndpoints: []stage.Endpoint{}}, nil
	}
	r := *s.Report
	return &r, nil
}
