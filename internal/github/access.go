package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AccessStatus labels what a token can do with a workspace repository.
type AccessStatus string

const (
	AccessAccessible      AccessStatus = "accessible"
	AccessReadOnlyBlocked AccessStatus = "read_only_blocked"
	AccessNotFound        AccessStatus = "repository_not_found_or_no_access"
	AccessForbidden       AccessStatus = "access_forbidden"
	AccessCheckFailed     AccessStatus = "check_failed"
	AccessNoRepositoryURL AccessStatus = "no_repository_url"
)

// AccessHTTPError labels any other non-OK answer, e.g. http_error_500.
func AccessHTTPError(status int) AccessStatus {
	return AccessStatus(fmt.Sprintf("http_error_%d", status))
}

// ClassifyPermissions treats admin and maintain as implying push.
func ClassifyPermissions(p Permissions) AccessStatus {
	if p.Push || p.Admin || p.Maintain {
		return AccessAccessible
	}
	return AccessReadOnlyBlocked
}

// CheckRepositoryAccess fetches the repository at repoURL and classifies the
// token's permissions on it. It never returns an error; failures are labels.
func (c *Client) CheckRepositoryAccess(ctx context.Context, accessToken, repoURL string) AccessStatus {
	if strings.TrimSpace(repoURL) == "" {
		return AccessNoRepositoryURL
	}

	owner, repo, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return AccessNotFound
	}

	r, err := c.GetRepository(ctx, accessToken, owner, repo)
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			return AccessCheckFailed
		}
		switch se.StatusCode {
		case http.StatusNotFound:
			return AccessNotFound
		case http.StatusForbidden:
			return AccessForbidden
		default:
			return AccessHTTPError(se.StatusCode)
		}
	}

	return ClassifyPermissions(r.Permissions)
}

// ParseRepositoryURL extracts owner and repository from
// https://github.com/owner/repo(.git), github.com/owner/repo and
// git@github.com:owner/repo.git.
func ParseRepositoryURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)

	var path string
	switch {
	case strings.HasPrefix(s, "git@"):
		_, after, ok := strings.Cut(s, ":")
		if !ok {
			return "", "", fmt.Errorf("github: unsupported repository URL %q", raw)
		}
		path = after
	default:
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, perr := url.Parse(s)
		if perr != nil || u.Host == "" {
			return "", "", fmt.Errorf("github: unsupported repository URL %q", raw)
		}
		path = u.Path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: repository URL %q has no owner/repo", raw)
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
