// ABOUTME: Read side of the friendship graph: statuses, friend lists, pending requests
// ABOUTME: Users are annotated with their status as seen by the viewing user

package friendship

import (
	"context"
	"errors"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Status is a user's relation to the viewer, as shown to clients.
type Status string

const (
	StatusMe              Status = "me"
	StatusFriend          Status = "friend"
	StatusRequestSent     Status = "request_sent"     // the viewer sent a request to this user
	StatusRequestReceived Status = "request_received" // this user sent a request to the viewer
	StatusNone            Status = "none"
)

// StatusOf converts the viewer's stored relation into a Status.
func StatusOf(kind store.RelationKind) Status {
	switch kind {
	case store.RelationFriend:
		return StatusFriend
	case store.RelationOutgoing:
		return StatusRequestSent
	case store.RelationIncoming:
		return StatusRequestReceived
	}
	return StatusNone
}

// UserWithStatus is a user as seen by a viewer.
type UserWithStatus struct {
	User   *store.User
	Status Status
}

// Status returns other's status relative to viewer.
func (s *Service) Status(ctx context.Context, viewerID, otherID string) (*UserWithStatus, error) {
	user, err := s.store.FindUser(ctx, otherID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", otherID)
	}
	if err != nil {
		return nil, apperr.FromStore(err, "find user")
	}
	if viewerID == otherID {
		return &UserWithStatus{User: user, Status: StatusMe}, nil
	}

	kind, err := s.store.GetRelation(ctx, viewerID, otherID)
	if err != nil {
		return nil, apperr.FromStore(err, "get relation")
	}
	return &UserWithStatus{User: user, Status: StatusOf(kind)}, nil
}

// ListUsers returns every user annotated with its status relative to viewer.
func (s *Service) ListUsers(ctx context.Context, viewerID string) ([]*UserWithStatus, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.FromStore(err, "list users")
	}
	relations, err := s.store.ListRelations(ctx, viewerID)
	if err != nil {
		return nil, apperr.FromStore(err, "list relations")
	}

	out := make([]*UserWithStatus, 0, len(users))
	for _, u := range users {
		status := StatusOf(relations[u.ID])
		if u.ID == viewerID {
			status = StatusMe
		}
		out = append(out, &UserWithStatus{User: u, Status: status})
	}
	return out, nil
}

// Friends returns the viewer's friends.
func (s *Service) Friends(ctx context.Context, viewerID string) ([]*store.User, error) {
	return s.related(ctx, viewerID, store.RelationFriend)
}

// IncomingRequests returns the users who sent the viewer a pending request.
func (s *Service) IncomingRequests(ctx context.Context, viewerID string) ([]*store.User, error) {
	return s.related(ctx, viewerID, store.RelationIncoming)
}

// OutgoingRequests returns the users the viewer sent a pending request to.
func (s *Service) OutgoingRequests(ctx context.Context, viewerID string) ([]*store.User, error) {
	return s.related(ctx, viewerID, store.RelationOutgoing)
}

func (s *Service) related(ctx context.Context, viewerID string, kind store.RelationKind) ([]*store.User, error) {
	users, err := s.store.ListRelated(ctx, viewerID, kind)
	if err != nil {
		return nil, apperr.FromStore(err, "list "+string(kind)+" relations")
	}
	return users, nil
}

// Counts returns how many friends and pending requests the viewer has.
func (s *Service) Counts(ctx context.Context, viewerID string) (*store.RelationCounts, error) {
	counts, err := s.store.CountRelations(ctx, viewerID)
	if err != nil {
		return nil, apperr.FromStore(err, "count relations")
	}
	return counts, nil
}
