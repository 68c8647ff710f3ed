package translate

import (
	"context"
	"fmt"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// SpiraUserLookup is the slice of the Spira client user translation needs.
type SpiraUserLookup interface {
	User(ctx context.Context, userID int64) (model.User, error)
	UserByLogin(ctx context.Context, login string) (model.User, error)
}

// GitLabUserLookup is the slice of the GitLab client user translation needs.
type GitLabUserLookup interface {
	UserIDByUsername(ctx context.Context, username string) (int64, error)
}

// Users resolves user references across the two systems: the configured user
// mapping table first, then, when enabled, auto-mapping by login. Resolution
// failures are returned to the caller, which decides whether to leave the
// field unset (assignees) or substitute the sync account (reporters).
type Users struct {
	table   *Table
	spira   SpiraUserLookup
	gitlab  GitLabUserLookup
	autoMap bool
}

func NewUsers(table *Table, spira SpiraUserLookup, gitlab GitLabUserLookup, autoMap bool) *Users {
	return &Users{table: table, spira: spira, gitlab: gitlab, autoMap: autoMap}
}

// GitLabUsername resolves a Spira user id to a GitLab username.
func (u *Users) GitLabUsername(ctx context.Context, spiraUserID int64) (string, error) {
	if username, ok := u.table.External(spiraUserID); ok {
		return username, nil
	}
	if !u.autoMap {
		return "", fmt.Errorf("no user mapping for spira user %d", spiraUserID)
	}

	user, err := u.spira.User(ctx, spiraUserID)
	if err != nil {
		return "", fmt.Errorf("auto-mapping spira user %d: %w", spiraUserID, err)
	}
	return user.Login, nil
}

// GitLabUserID resolves a Spira user id to a GitLab account id for issue
// assignment.
func (u *Users) GitLabUserID(ctx context.Context, spiraUserID int64) (int64, error) {
	username, err := u.GitLabUsername(ctx, spiraUserID)
	if err != nil {
		return 0, err
	}

	id, err := u.gitlab.UserIDByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("resolving gitlab user %q: %w", username, err)
	}
	return id, nil
}

// SpiraUserID resolves a GitLab username to a Spira user id.
func (u *Users) SpiraUserID(ctx context.Context, username string) (int64, error) {
	if id, ok := u.table.Internal(username); ok {
		return id, nil
	}
	if !u.autoMap {
		return 0, fmt.Errorf("no user mapping for gitlab user %q", username)
	}

	user, err := u.spira.UserByLogin(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("auto-mapping gitlab user %q: %w", username, err)
	}
	return user.ID, nil
}
