// ABOUTME: User and friendship handlers: listings with viewer-relative status and request transitions
// ABOUTME: Each successful transition is answered with the caller's new status toward the other user

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kvchvn/chitchat-backend/internal/auth"
	"github.com/kvchvn/chitchat-backend/internal/friendship"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// UserResponse is a user annotated with its status relative to the caller.
type UserResponse struct {
	protocol.User
	Status string `json:"status"`
}

// UsersResponse is the JSON response for user listings.
type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

// CountsResponse is the JSON response for GET /api/users/counts.
type CountsResponse struct {
	Friends  int `json:"friends"`
	Incoming int `json:"incoming"`
	Outgoing int `json:"outgoing"`
}

func newUserResponse(u *friendship.UserWithStatus) UserResponse {
	return UserResponse{User: protocol.NewUser(u.User), Status: string(u.Status)}
}

// usersWithStatus annotates users that share one relation to the caller.
func usersWithStatus(users []*store.User, status friendship.Status) UsersResponse {
	out := UsersResponse{Users: make([]UserResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, UserResponse{User: protocol.NewUser(u), Status: string(status)})
	}
	return out
}

func (a *API) handleMe(c *gin.Context) {
	authCtx := auth.FromGin(c)
	u, err := a.friends.Status(c.Request.Context(), authCtx.UserID, authCtx.UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(u))
}

func (a *API) handleListUsers(c *gin.Context) {
	users, err := a.friends.ListUsers(c.Request.Context(), auth.FromGin(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	out := UsersResponse{Users: make([]UserResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, newUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) handleGetUser(c *gin.Context) {
	id, err := a.pathID(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	u, err := a.friends.Status(c.Request.Context(), auth.FromGin(c).UserID, id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(u))
}

func (a *API) handleCounts(c *gin.Context) {
	counts, err := a.friends.Counts(c.Request.Context(), auth.FromGin(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CountsResponse{
		Friends:  counts.Friends,
		Incoming: counts.Incoming,
		Outgoing: counts.Outgoing,
	})
}

func (a *API) handleFriends(c *gin.Context) {
	a.listRelated(c, a.friends.Friends, friendship.StatusFriend)
}

func (a *API) handleIncoming(c *gin.Context) {
	a.listRelated(c, a.friends.IncomingRequests, friendship.StatusRequestReceived)
}

func (a *API) handleOutgoing(c *gin.Context) {
	a.listRelated(c, a.friends.OutgoingRequests, friendship.StatusRequestSent)
}

func (a *API) listRelated(c *gin.Context, list func(context.Context, string) ([]*store.User, error), status friendship.Status) {
	users, err := list(c.Request.Context(), auth.FromGin(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usersWithStatus(users, status))
}

type transitionFunc func(ctx context.Context, userID, otherID string) (*friendship.Transition, error)

func (a *API) handleSendRequest(c *gin.Context)   { a.transition(c, a.friends.SendRequest) }
func (a *API) handleCancelRequest(c *gin.Context) { a.transition(c, a.friends.CancelRequest) }
func (a *API) handleAcceptRequest(c *gin.Context) { a.transition(c, a.friends.AcceptRequest) }
func (a *API) handleRefuseRequest(c *gin.Context) { a.transition(c, a.friends.RefuseRequest) }
func (a *API) handleRemoveFriend(c *gin.Context)  { a.transition(c, a.friends.RemoveFriend) }

// transition applies fn between the caller and the :id user, notifies both
// users' connections, and replies with the caller's side of the change.
func (a *API) transition(c *gin.Context, fn transitionFunc) {
	otherID, err := a.pathID(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	t, err := fn(c.Request.Context(), auth.FromGin(c).UserID, otherID)
	if err != nil {
		a.fail(c, err)
		return
	}
	if a.notifier != nil {
		a.notifier.NotifyTransition(t)
	}
	c.JSON(http.StatusOK, protocol.FriendshipUpdated{
		OtherID: t.OtherID,
		Status:  string(friendship.StatusOf(t.UserKind)),
		Channel: protocol.NewChannel(t.Channel),
	})
}
