package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ieraasyl/StudentPortal/internal/services"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// PasswordResetter completes the reset flow started by a reset email.
// *services.PasswordResetService satisfies it.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// PasswordHandler serves the reset confirmation the reset link leads to.
type PasswordHandler struct {
	resets PasswordResetter
}

// NewPasswordHandler creates the confirmation endpoint.
func NewPasswordHandler(resets PasswordResetter) *PasswordHandler {
	return &PasswordHandler{resets: resets}
}

type confirmResetRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ConfirmReset sets a new password using the token from the reset link.
// Every session of the student is revoked afterwards.
//
// Example request:
//
//	POST /api/v1/session/password-reset/confirm
//	{"token": "b2c1...", "password": "new-password"}
//
// @Summary      Confirm a password reset
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  confirmResetRequest  true  "Reset token and new password"
// @Success      200  {object}  utils.SuccessResponse
// @Failure      400  {object}  utils.ErrorResponse  "Weak password"
// @Failure      410  {object}  utils.ErrorResponse  "Used or expired token"
// @Router       /api/v1/session/password-reset/confirm [post]
func (h *PasswordHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := h.resets.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case err == nil:
		utils.RespondWithSuccess(w, r, nil, "Password updated")
	case errors.Is(err, services.ErrWeakPassword):
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidResetToken):
		utils.RespondWithError(w, r, http.StatusGone, err.Error())
	default:
		log.Error().Err(err).Msg("Password reset failed")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to reset password")
	}
}
