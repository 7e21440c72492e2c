package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/haatos/readycheck/internal/store"
)

// GitHubDeliverer posts PR comments and commit statuses.
type GitHubDeliverer struct {
	client *github.Client
}

func NewGitHubDeliverer(client *github.Client) *GitHubDeliverer {
	return &GitHubDeliverer{client}
}

func (d *GitHubDeliverer) Deliver(ctx context.Context, intent store.OutboxIntent) error {
	var err error
	switch intent.Kind {
	case store.IntentPRComment:
		err = d.postComment(ctx, intent.Payload)
	case store.IntentStatusCheck:
		err = d.createStatus(ctx, intent.Payload)
	default:
		err = fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
	if err != nil {
		return ErrDeliveryFailed{IntentID: intent.IntentID, Err: err}
	}
	return nil
}

func (d *GitHubDeliverer) postComment(ctx context.Context, payload string) error {
	var p CommentPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	_, _, err := d.client.Issues.CreateComment(ctx, p.Owner, p.Repo, p.Number, &github.IssueComment{
		Body: github.String(p.Body),
	})
	return err
}

func (d *GitHubDeliverer) createStatus(ctx context.Context, payload string) error {
	var p StatusPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	status := &github.RepoStatus{
		State:       github.String(p.State),
		Description: github.String(p.Description),
		Context:     github.String(p.Context),
	}
	if p.TargetURL != "" {
		status.TargetURL = github.String(p.TargetURL)
	}
	_, _, err := d.client.Repositories.CreateStatus(ctx, p.Owner, p.Repo, p.SHA, status)
	return err
}
