package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/haatos/readycheck/internal/stage"
)

const maxFetchedFiles = 100

type PullRequestRef struct {
	Owner   string
	Repo    string
	Number  int
	HeadSHA string
	BaseSHA string
}

type PullRequestChange struct {
	Diff          string
	CommitMessage string
	Files         []stage.File
}

type PullRequestFetcher interface {
	FetchPullRequest(context.Context, PullRequestRef) (*PullRequestChange, error)
}

// GitHubPullRequestFetcher reads the diff, commit messages and changed file
// contents of a pull request through the GitHub API.
type GitHubPullRequestFetcher struct {
	client *github.Client
}

func NewGitHubPullRequestFetcher(client *github.Client) *GitHubPullRequestFetcher {
	return &GitHubPullRequestFetcher{client}
}

func (f *GitHubPullRequestFetcher) FetchPullRequest(ctx context.Context, ref PullRequestRef) (*PullRequestChange, error) {
	diff, _, err := f.client.PullRequests.GetRaw(ctx, ref.Owner, ref.Repo, ref.Number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return nil, fmt.Errorf("err fetching diff: %w", err)
	}
	message, err := f.commitMessages(ctx, ref)
	if err != nil {
		return nil, err
	}
	commitFiles, err := f.listFiles(ctx, ref)
	if err != nil {
		return nil, err
	}

	files := make([]stage.File, 0, len(commitFiles))
	for _, cf := range commitFiles {
		if cf.GetStatus() == "removed" {
			continue
		}
		content, err := f.fileContent(ctx, ref, cf.GetFilename(), ref.HeadSHA)
		if err != nil {
			return nil, fmt.Errorf("err fetching %s: %w", cf.GetFilename(), err)
		}
		file := stage.File{Path: cf.GetFilename(), Content: content}
		if cf.GetStatus() == "modified" && ref.BaseSHA != "" {
			// the previous version is informational only
			if previous, err := f.fileContent(ctx, ref, cf.GetFilename(), ref.BaseSHA); err == nil {
				file.PreviousContent = &previous
			}
		}
		files = append(files, file)
	}

	return &PullRequestChange{Diff: diff, CommitMessage: message, Files: files}, nil
}

func (f *GitHubPullRequestFetcher) listFiles(ctx context.Context, ref PullRequestRef) ([]*github.CommitFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var allFiles []*github.CommitFile
	for {
		files, resp, err := f.client.PullRequests.ListFiles(ctx, ref.Owner, ref.Repo, ref.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("err listing pull request files: %w", err)
		}
		allFiles = append(allFiles, files...)
		if resp.NextPage == 0 || len(allFiles) >= maxFetchedFiles {
			break
		}
		opts.Page = resp.NextPage
	}
	if len(allFiles) > maxFetchedFiles {
		allFiles = allFiles[:maxFetchedFiles]
	}
	return allFiles, nil
}

func (f *GitHubPullRequestFetcher) commitMessages(ctx context.Context, ref PullRequestRef) (string, error) {
	commits, _, err := f.client.PullRequests.ListCommits(ctx, ref.Owner, ref.Repo, ref.Number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return "", fmt.Errorf("err listing pull request commits: %w", err)
	}
	messages := make([]string, 0, len(commits))
	for _, c := range commits {
		messages = append(messages, c.GetCommit().GetMessage())
	}
	return strings.Join(messages, "\n\n"), nil
}

func (f *GitHubPullRequestFetcher) fileContent(ctx context.Context, ref PullRequestRef, path, sha string) (string, error) {
	content, _, _, err := f.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, path, &github.RepositoryContentGetOptions{
		Ref: sha,
	})
	if err != nil {
		return "", err
	}
	if content == nil {
		return "", fmt.Errorf("%s is not a file", path)
	}
	return content.GetContent()
}
