package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates the actor lacks the capability for a mutation.
type ForbiddenError struct {
	ActorID    string
	Capability string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s lacks capability %s", e.ActorID, e.Capability)
}

// Service answers capability questions from the space_members table.
// Actor identity arrives pre-authenticated; only authorization lives here.
type Service struct {
	DB *sql.DB
}

func (s Service) roleTx(ctx context.Context, tx *sql.Tx, spaceID, actorID string) (string, error) {
	row := tx.QueryRowContext(ctx, `SELECT role FROM space_members WHERE space_id=? AND actor_id=?`, spaceID, actorID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// IsAdminTx reports whether the actor holds admin or owner role in the space.
func (s Service) IsAdminTx(ctx context.Context, tx *sql.Tx, spaceID, actorID string) (bool, error) {
	role, err := s.roleTx(ctx, tx, spaceID, actorID)
	if err != nil {
		return false, err
	}
	return role == "owner" || role == "admin", nil
}

// RequireTaskCapability permits the task's current owner and space admins.
func (s Service) RequireTaskCapability(ctx context.Context, tx *sql.Tx, spaceID string, taskOwner *string, actorID string) error {
	if actorID == "" {
		return ForbiddenError{ActorID: actorID, Capability: "task.mutate"}
	}
	if taskOwner != nil && *taskOwner == actorID {
		return nil
	}
	ok, err := s.IsAdminTx(ctx, tx, spaceID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{ActorID: actorID, Capability: "task.mutate"}
	}
	return nil
}

// RequireSpaceAdmin permits only admin/owner members.
func (s Service) RequireSpaceAdmin(ctx context.Context, tx *sql.Tx, spaceID, actorID string) error {
	ok, err := s.IsAdminTx(ctx, tx, spaceID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{ActorID: actorID, Capability: "space.admin"}
	}
	return nil
}

// RequireMember permits any member of the space. Runs outside a tx so the
// broadcast hub can use it as its authorizer.
func (s Service) RequireMember(ctx context.Context, spaceID, actorID string) error {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM space_members WHERE space_id=? AND actor_id=? LIMIT 1`, spaceID, actorID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return ForbiddenError{ActorID: actorID, Capability: "space.observe"}
	}
	return err
}
