package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haatos/readycheck/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const statusContext = "readycheck"

var ErrRunNotFinished = errors.New("run has no conclusion yet")

// PRTarget identifies the pull request a run reports to.
type PRTarget struct {
	Owner    string
	Repo     string
	PRNumber int
	HeadSHA  string
}

func (t PRTarget) commentTarget() string {
	return fmt.Sprintf("%s/%s#%d", t.Owner, t.Repo, t.PRNumber)
}

func (t PRTarget) statusTarget() string {
	return fmt.Sprintf("%s/%s@%s", t.Owner, t.Repo, t.HeadSHA)
}

type CommentPayload struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Body   string `json:"body"`
}

type StatusPayload struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	SHA         string `json:"sha"`
	State       string `json:"state"`
	Context     string `json:"context"`
	Description string `json:"description"`
	TargetURL   string `json:"targetUrl"`
}

// IdempotencyKey derives the outbox key of an intent from the run, the
// intent kind and its target.
func IdempotencyKey(runID string, kind store.IntentKind, target string) string {
	sum := blake2b.Sum256([]byte(runID + "\x00" + string(kind) + "\x00" + target))
	return hex.EncodeToString(sum[:])
}

type OutboxService struct {
	store         store.OutboxStore
	uuidGenerator UUIDGenerator
	logger        *zap.Logger
	baseURL       string
	now           func() time.Time
}

func NewOutboxService(
	store store.OutboxStore,
	uuidGenerator UUIDGenerator,
	logger *zap.Logger,
	baseURL string,
) *OutboxService {
	return &OutboxService{
		store:         store,
		uuidGenerator: uuidGenerator,
		logger:        logger,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PublishRunIntents records a PR comment and a commit status for a finished
// run. Publishing the same run twice returns the stored intents without
// creating new ones.
func (s *OutboxService) PublishRunIntents(
	ctx context.Context,
	run *store.Run,
	target PRTarget,
) ([]store.OutboxIntent, error) {
	if run.Conclusion == nil {
		return nil, ErrRunNotFinished
	}
	comment, err := json.Marshal(CommentPayload{
		Owner:  target.Owner,
		Repo:   target.Repo,
		Number: target.PRNumber,
		Body:   renderRunComment(run),
	})
	if err != nil {
		return nil, err
	}
	state, description := commitStatus(run)
	status, err := json.Marshal(StatusPayload{
		Owner:       target.Owner,
		Repo:        target.Repo,
		SHA:         target.HeadSHA,
		State:       state,
		Context:     statusContext,
		Description: description,
		TargetURL:   s.baseURL + "/api/runs/" + run.RunID,
	})
	if err != nil {
		return nil, err
	}

	candidates := []struct {
		kind    store.IntentKind
		target  string
		payload []byte
	}{
		{store.IntentPRComment, target.commentTarget(), comment},
		{store.IntentStatusCheck, target.statusTarget(), status},
	}
	intents := make([]store.OutboxIntent, 0, len(candidates))
	for _, c := range candidates {
		intent, created, err := s.store.CreateIntent(context.WithoutCancel(ctx), store.OutboxIntent{
			IntentID:       s.uuidGenerator.GenerateUUID(),
			IdempotencyKey: IdempotencyKey(run.RunID, c.kind, c.target),
			RunID:          run.RunID,
			Kind:           c.kind,
			Target:         c.target,
			Payload:        string(c.payload),
			CreatedAt:      s.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("err creating %s intent: %w", c.kind, err)
		}
		if !created {
			s.logger.Debug("intent already recorded",
				zap.String("run_id", run.RunID),
				zap.String("idempotency_key", intent.IdempotencyKey),
			)
		}
		intents = append(intents, *intent)
	}
	return intents, nil
}

func (s *OutboxService) ListRunIntents(ctx context.Context, runID string) ([]store.OutboxIntent, error) {
	return s.store.ListRunIntents(ctx, runID)
}

// commitStatus maps a conclusion onto a GitHub commit status. Partial
// success reports as error so it stays apart from a policy failure.
func commitStatus(run *store.Run) (string, string) {
	switch *run.Conclusion {
	case store.ConclusionSuccess:
		return "success", "All readiness checks passed"
	case store.ConclusionPartialSuccess:
		return "error", "Partial success: some stages could not run, gates passed"
	case store.ConclusionCancelled:
		return "error", "Run was cancelled"
	default:
		reasons := make([]string, 0, len(run.GatesFailed))
		for _, g := range run.GatesFailed {
			reasons = append(reasons, g.Reason)
		}
		description := "Blocked"
		if len(reasons) > 0 {
			description += ": " + strings.Join(reasons, "; ")
		}
		// GitHub rejects descriptions over 140 characters
		if len(description) > 140 {
			description = description[:137] + "..."
		}
		return "failure", description
	}
}

func renderRunComment(run *store.Run) string {
	var b strings.Builder
	switch *run.Conclusion {
	case store.ConclusionSuccess:
		b.WriteString("### ReadyCheck: passed\n\n")
	case store.ConclusionPartialSuccess:
		b.WriteString("### ReadyCheck: partial success\n\n")
		b.WriteString("Some stages could not run. Gates were evaluated on the remaining results.\n\n")
	case store.ConclusionCancelled:
		b.WriteString("### ReadyCheck: cancelled\n\n")
	default:
		b.WriteString("### ReadyCheck: blocked\n\n")
	}

	fmt.Fprintf(&b, "Run `%s`\n\n", run.CorrelationID)
	b.WriteString("| Stage | Status |\n|---|---|\n")
	fmt.Fprintf(&b, "| Review Guard | %s |\n", run.ReviewGuardStatus)
	fmt.Fprintf(&b, "| Test Engine | %s |\n", run.TestEngineStatus)
	fmt.Fprintf(&b, "| Doc Sync | %s |\n", run.DocSyncStatus)

	if r := run.ReviewGuardResult; r != nil && r.IssuesFound > 0 {
		fmt.Fprintf(&b, "\nReview Guard found %d issue(s): %d critical, %d high, %d medium, %d low.\n",
			r.IssuesFound, r.Summary.Critical, r.Summary.High, r.Summary.Medium, r.Summary.Low)
	}
	if r := run.TestEngineResult; r != nil && r.TestsGenerated > 0 {
		fmt.Fprintf(&b, "\nTest Engine generated tests for %d AI-touched file(s).\n", r.TestsGenerated)
	}
	if len(run.GatesFailed) > 0 {
		b.WriteString("\n**Failed gates**\n\n")
		for _, g := range run.GatesFailed {
			fmt.Fprintf(&b, "- `%s`: %s\n", g.Gate, g.Reason)
		}
	}
	return b.String()
}
