package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/roles"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
	"github.com/aerarium-app/aerarium/internal/view"
)

// RoleDirectory lists the roles available for assignment. Implemented by
// roles.Service.
type RoleDirectory interface {
	All(ctx context.Context) ([]roles.Role, error)
}

// Handler serves user administration and profile endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	roles     RoleDirectory
	templates *view.Engine
	csrf      *shared.CSRFManager
	authz     authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, roleDir RoleDirectory, templates *view.Engine, csrf *shared.CSRFManager, az authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, roles: roleDir, templates: templates, csrf: csrf, authz: az}
}

// MountAdminRoutes registers the user administration routes. Mounted under
// /administration by the router.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.EditUser))
		r.Get("/users", h.listUsers)
		r.Get("/users/new", h.showCreateForm)
		r.Post("/users", h.createUser)
		r.Get("/user/{id}", h.showEditForm)
		r.Post("/user/{id}", h.updateUser)
		r.Post("/user/{id}/delete", h.deleteUser)
	})
}

// MountProfileRoutes registers the self-service profile routes. Mounted
// under /profile behind RequireLogin.
func (h *Handler) MountProfileRoutes(r chi.Router) {
	r.Get("/", h.showProfile)
	r.Post("/email", h.requestEmailChange)
	r.Post("/delete", h.requestAccountDeletion)
}

// MountTokenRoutes registers the confirmation endpoints reached from email
// links. The token itself is the credential, so no session is required.
func (h *Handler) MountTokenRoutes(r chi.Router) {
	r.Get("/email/confirm", h.confirmEmailChange)
	r.Get("/delete/confirm", h.confirmAccountDeletion)
}

type formErrors map[string]string

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("search")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	listing, err := h.service.List(r.Context(), term, page)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		h.render(w, r, "pages/users/list.html", map[string]any{
			"Page":   shared.Page{},
			"Errors": formErrors{"general": shared.UserSafeMessage(err)},
		}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/users/list.html", map[string]any{
		"Users":      listing.Users,
		"Page":       listing.Page,
		"SearchTerm": listing.SearchTerm,
		"InfoText":   listing.Page.InfoText(h.templates.Printer(), listing.SearchTerm),
		"Errors":     formErrors{},
	}, http.StatusOK)
}

func (h *Handler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	allRoles, err := h.roles.All(r.Context())
	if err != nil {
		h.logger.Error("load roles", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.renderForm(w, r, formData{IsNew: true, Roles: allRoles, Form: map[string]string{"is_active": "1"}, Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	roleID, _ := strconv.ParseInt(r.PostFormValue("role_id"), 10, 64)
	in := CreateInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		RoleID:   roleID,
		IsActive: r.PostFormValue("is_active") == "1",
	}
	actorID, _ := shared.CurrentUserID(r.Context())
	user, err := h.service.Create(r.Context(), actorID, in)
	if err != nil {
		h.renderFormError(w, r, formData{IsNew: true, Form: formValues(r)}, err)
		return
	}
	h.redirectWithFlash(w, r, "/administration/user/"+strconv.FormatInt(user.ID, 10), "success", "User created.")
}

func (h *Handler) showEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var user User
	var allRoles []roles.Role
	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error {
		var err error
		user, err = h.service.Get(ctx, id)
		return err
	})
	group.Go(func() error {
		var err error
		allRoles, err = h.roles.All(ctx)
		return err
	})
	if err := group.Wait(); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("load user form", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := map[string]string{
		"name":    user.Name,
		"email":   user.Email,
		"role_id": strconv.FormatInt(user.RoleID, 10),
	}
	if user.IsActive {
		form["is_active"] = "1"
	}
	h.renderForm(w, r, formData{User: user, Roles: allRoles, Form: form, Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	roleID, _ := strconv.ParseInt(r.PostFormValue("role_id"), 10, 64)
	in := UpdateInput{
		ID:       id,
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		RoleID:   roleID,
		IsActive: r.PostFormValue("is_active") == "1",
	}
	actorID, _ := shared.CurrentUserID(r.Context())
	user, err := h.service.Update(r.Context(), actorID, in)
	if err != nil {
		h.renderFormError(w, r, formData{User: User{ID: id}, Form: formValues(r)}, err)
		return
	}
	h.redirectWithFlash(w, r, "/administration/user/"+strconv.FormatInt(user.ID, 10), "success", "User updated.")
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	actorID, _ := shared.CurrentUserID(r.Context())
	if err := h.service.Delete(r.Context(), actorID, id); err != nil {
		h.redirectWithFlash(w, r, "/administration/user/"+strconv.FormatInt(id, 10), "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/administration/users", "success", "User deleted.")
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.CurrentUserID(r.Context())
	user, err := h.service.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("load profile", slog.Int64("user_id", userID), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/profile/show.html", map[string]any{
		"User":     user,
		"RoleName": user.RoleName,
		"Errors":   formErrors{},
	}, http.StatusOK)
}

func (h *Handler) requestEmailChange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	userID, _ := shared.CurrentUserID(r.Context())
	err := h.service.RequestEmailChange(r.Context(), userID, r.PostFormValue("new_email"))
	if err != nil {
		h.redirectWithFlash(w, r, "/profile", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/profile", "success", "A confirmation link was sent to the new address.")
}

func (h *Handler) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	_, err := h.service.ConfirmEmailChange(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.redirectWithFlash(w, r, "/auth/login", "error", tokenErrorMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/auth/login", "success", "Your email address has been updated. Please sign in again.")
}

func (h *Handler) requestAccountDeletion(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.CurrentUserID(r.Context())
	if err := h.service.RequestAccountDeletion(r.Context(), userID); err != nil {
		h.redirectWithFlash(w, r, "/profile", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/profile", "success", "A confirmation link was sent to your email address.")
}

func (h *Handler) confirmAccountDeletion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ConfirmAccountDeletion(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.redirectWithFlash(w, r, "/auth/login", "error", tokenErrorMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/auth/login", "success", "Your account has been deleted.")
}

type formData struct {
	IsNew  bool
	User   User
	Roles  []roles.Role
	Form   map[string]string
	Errors formErrors
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data formData, status int) {
	action := "/administration/users"
	if !data.IsNew {
		action = "/administration/user/" + strconv.FormatInt(data.User.ID, 10)
	}
	h.render(w, r, "pages/users/form.html", map[string]any{
		"IsNew":      data.IsNew,
		"User":       data.User,
		"Roles":      data.Roles,
		"Form":       data.Form,
		"Errors":     data.Errors,
		"FormAction": action,
	}, status)
}

func (h *Handler) renderFormError(w http.ResponseWriter, r *http.Request, data formData, err error) {
	allRoles, rolesErr := h.roles.All(r.Context())
	if rolesErr != nil {
		h.logger.Error("load roles", slog.Any("error", rolesErr))
	}
	data.Roles = allRoles
	data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
	status := http.StatusUnprocessableEntity
	if !errors.Is(err, shared.ErrInvalidArgument) && !errors.Is(err, shared.ErrDuplicateEmail) && !errors.Is(err, shared.ErrWouldLockOut) {
		status = http.StatusInternalServerError
		h.logger.Error("save user", slog.Any("error", err))
	}
	h.renderForm(w, r, data, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	var granted authz.Permission
	if userID, ok := shared.CurrentUserID(r.Context()); ok && h.authz.Resolver != nil {
		granted, _ = h.authz.Resolver.PermissionsForUser(r.Context(), userID)
	}
	viewData := view.TemplateData{
		Title:       "Users",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Permissions: granted,
		Data:        data,
	}
	w.WriteHeader(status)
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func formValues(r *http.Request) map[string]string {
	form := map[string]string{}
	for key, vals := range r.PostForm {
		if len(vals) > 0 {
			form[key] = strings.TrimSpace(vals[0])
		}
	}
	return form
}

// tokenErrorMessage maps codec errors to a message safe to show. Malformed
// and tampered tokens share one wording; distinguishing them helps nobody
// but an attacker probing the format.
func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "This link has expired. Please request a new one."
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrSignatureInvalid):
		return "This link is not valid."
	default:
		return shared.UserSafeMessage(err)
	}
}
