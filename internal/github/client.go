// Package github реализует источник активности поверх GitHub REST API.
// Клиент считает коммиты, комментарии и ревью для скоринга и собирает
// сводку активности для генерации челленджей.
//
// Каждый вызов ограничен таймаутом из конфигурации: один зависший запрос
// не должен застопорить весь пересчёт.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"serotonyl.ru/gitgame-bot/internal/common"
	"serotonyl.ru/gitgame-bot/internal/features/scoring"
)

// Client — обёртка над go-github.
type Client struct {
	gh      *github.Client
	timeout time.Duration
}

// New создаёт клиент GitHub с токеном доступа.
func New(token string, timeout time.Duration) *Client {
	return &Client{
		gh:      github.NewClient(nil).WithAuthToken(token),
		timeout: timeout,
	}
}

// Resolve проверяет, что репозиторий owner/name существует и доступен токену.
func (c *Client) Resolve(ctx context.Context, repo string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, _, err = c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", repo, common.ErrRepoNotFound)
		}
		return wrapErr(err)
	}
	return nil
}

// CountCommits считает коммиты автора login строго после since.
// GitHub фильтрует since включительно, поэтому границу дополнительно
// проверяем по дате коммита на нашей стороне.
func (c *Client) CountCommits(ctx context.Context, repo, login string, since time.Time) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := &github.CommitsListOptions{
		Author:      login,
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	count := 0
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return 0, wrapErr(err)
		}
		for _, commit := range commits {
			if commit.GetCommit().GetAuthor().GetDate().Time.After(since) {
				count++
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return count, nil
}

// ListIssueComments возвращает комментарии к issues репозитория после since.
// Номер issue 0 в API означает "по всему репозиторию".
func (c *Client) ListIssueComments(ctx context.Context, repo string, since time.Time) ([]scoring.IssueComment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := &github.IssueListCommentsOptions{
		Since:       &since,
		Sort:        github.String("created"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []scoring.IssueComment
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, 0, opts)
		if err != nil {
			return nil, wrapErr(err)
		}
		for _, cm := range comments {
			out = append(out, scoring.IssueComment{
				Author:    cm.GetUser().GetLogin(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CountRecentReviews считает ревью login после since среди limit последних
// обновлённых PR. Ограничение по числу PR — осознанный компромисс:
// полнота в обмен на предсказуемую стоимость при rate limit GitHub.
func (c *Client) CountRecentReviews(ctx context.Context, repo, login string, since time.Time, limit int) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prs, _, err := c.gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return 0, wrapErr(err)
	}
	if len(prs) > limit {
		prs = prs[:limit]
	}

	count := 0
	for _, pr := range prs {
		reviews, _, err := c.gh.PullRequests.ListReviews(ctx, owner, name, pr.GetNumber(), nil)
		if err != nil {
			return 0, wrapErr(err)
		}
		for _, r := range reviews {
			if r.GetUser().GetLogin() == login && r.GetSubmittedAt().Time.After(since) {
				count++
			}
		}
	}
	return count, nil
}

// ActivitySummary собирает короткую сводку активности пользователя
// для промпта генерации челленджа.
func (c *Client) ActivitySummary(ctx context.Context, repo, login string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	commits := 0
	opts := &github.CommitsListOptions{Author: login, ListOptions: github.ListOptions{PerPage: 100}}
	for {
		page, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return "", wrapErr(err)
		}
		commits += len(page)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	issues, err := c.searchTotal(ctx, fmt.Sprintf("repo:%s/%s author:%s type:issue", owner, name, login))
	if err != nil {
		return "", err
	}
	prs, err := c.searchTotal(ctx, fmt.Sprintf("repo:%s/%s author:%s type:pr", owner, name, login))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Commits: %d, Issues created: %d, PRs: %d", commits, issues, prs), nil
}

func (c *Client) searchTotal(ctx context.Context, query string) (int, error) {
	result, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, wrapErr(err)
	}
	return result.GetTotal(), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// splitRepo разбирает "owner/name".
func splitRepo(repo string) (string, string, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%q: %w", repo, common.ErrBadRepoName)
	}
	return parts[0], parts[1], nil
}

// wrapErr помечает ответы rate limit типовой ошибкой, чтобы пересчёт
// мог отличать их в логах от прочих сбоев.
func wrapErr(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", common.ErrRateLimited, err)
	}
	return err
}
