// ABOUTME: Profile switching handler
// ABOUTME: Persists the switch on the session and on the user

package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/periscope-dev/periscope/internal/command"
	"github.com/periscope-dev/periscope/internal/profile"
)

type setProfileHandler struct {
	deps *Deps
}

func (*setProfileHandler) Name() string { return "system.set_profile" }

func (h *setProfileHandler) Handle(ctx context.Context, req *command.Request) command.Result {
	name, _ := req.Entities["profile"].(string)
	if !profile.Valid(name) {
		return command.Fail(command.KindValidation, fmt.Sprintf(
			"I don't know that profile. Try %s.", strings.Join(profile.Names(), ", ")))
	}

	if err := h.deps.Sessions.SetProfile(ctx, req.UserID, req.SessionID, name); err != nil {
		return command.Fail(command.KindInternal, "I couldn't switch profiles. Try again.")
	}
	// The user-level copy drives webhook notification throttling.
	if err := h.deps.Sessions.SetUserProfile(ctx, req.UserID, name); err != nil {
		return command.Fail(command.KindInternal, "I couldn't switch profiles. Try again.")
	}

	return command.Final(fmt.Sprintf("Profile set to %s.", name), nil)
}

func (h *setProfileHandler) Execute(ctx context.Context, req *command.Request) command.Result {
	return h.Handle(ctx, req)
}
