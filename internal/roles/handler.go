package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/view"
)

// Handler serves role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	authz     authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, az authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, authz: az}
}

// MountRoutes registers the role routes. Mounted under /administration by
// the router. Roles are addressed by name; "new" stays reserved so the
// create form cannot collide with an existing role.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.EditRole))
		r.Get("/roles", h.listRoles)
		r.Get("/role/new", h.showCreateForm)
		r.Post("/roles", h.createRole)
		r.Get("/role/{name}", h.showEditForm)
		r.Post("/role/{name}", h.updateRole)
		r.Get("/role/{name}/delete", h.showDeleteForm)
		r.Post("/role/{name}/delete", h.deleteRole)
	})
}

type formErrors map[string]string

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("search")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	listing, err := h.service.List(r.Context(), term, page)
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		h.render(w, r, "pages/roles/list.html", map[string]any{
			"Page":   shared.Page{},
			"Errors": formErrors{"general": shared.UserSafeMessage(err)},
		}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/roles/list.html", map[string]any{
		"Roles":          listing.Roles,
		"Page":           listing.Page,
		"SearchTerm":     listing.SearchTerm,
		"InfoText":       listing.Page.InfoText(h.templates.Printer(), listing.SearchTerm),
		"PermissionDefs": authz.Definitions(),
		"Errors":         formErrors{},
	}, http.StatusOK)
}

func (h *Handler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, roleFormData{IsNew: true, Form: map[string]string{}, Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	name := r.PostFormValue("name")
	perms := parsePermissions(r.PostForm["permissions"])
	actorID, _ := shared.CurrentUserID(r.Context())
	role, err := h.service.Create(r.Context(), actorID, name, perms)
	if err != nil {
		h.renderFormError(w, r, roleFormData{IsNew: true, Form: map[string]string{"name": strings.TrimSpace(name)}, Granted: perms}, err)
		return
	}
	h.redirectWithFlash(w, r, "/administration/role/"+role.Name, "success", "Role created.")
}

func (h *Handler) showEditForm(w http.ResponseWriter, r *http.Request) {
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	h.renderForm(w, r, roleFormData{
		Role:    role,
		Form:    map[string]string{"name": role.Name},
		Granted: role.Permissions,
		Errors:  formErrors{},
	}, http.StatusOK)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	name := r.PostFormValue("name")
	perms := parsePermissions(r.PostForm["permissions"])
	actorID, _ := shared.CurrentUserID(r.Context())
	updated, err := h.service.Update(r.Context(), actorID, role.ID, name, perms)
	if err != nil {
		h.renderFormError(w, r, roleFormData{Role: role, Form: map[string]string{"name": strings.TrimSpace(name)}, Granted: perms}, err)
		return
	}
	h.redirectWithFlash(w, r, "/administration/role/"+updated.Name, "success", "Role updated.")
}

func (h *Handler) showDeleteForm(w http.ResponseWriter, r *http.Request) {
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	h.renderDelete(w, r, role, formErrors{}, http.StatusOK)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var newRoleID *int64
	if raw := r.PostFormValue("new_role"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.renderDelete(w, r, role, formErrors{"new_role": "Choose a valid replacement role."}, http.StatusUnprocessableEntity)
			return
		}
		newRoleID = &id
	}
	actorID, _ := shared.CurrentUserID(r.Context())
	if err := h.service.Delete(r.Context(), actorID, role.ID, newRoleID); err != nil {
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, shared.ErrInUse) && !errors.Is(err, shared.ErrWouldLockOut) && !errors.Is(err, shared.ErrInvalidArgument) {
			status = http.StatusInternalServerError
			h.logger.Error("delete role", slog.Any("error", err))
		}
		h.renderDelete(w, r, role, formErrors{"general": shared.UserSafeMessage(err)}, status)
		return
	}
	h.redirectWithFlash(w, r, "/administration/roles", "success", "Role deleted.")
}

func (h *Handler) loadRole(w http.ResponseWriter, r *http.Request) (Role, bool) {
	name := chi.URLParam(r, "name")
	role, err := h.service.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
		} else {
			h.logger.Error("load role", slog.String("name", name), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return Role{}, false
	}
	return role, true
}

type roleFormData struct {
	IsNew   bool
	Role    Role
	Form    map[string]string
	Granted authz.Permission
	Errors  formErrors
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data roleFormData, status int) {
	action := "/administration/roles"
	if !data.IsNew {
		action = "/administration/role/" + data.Role.Name
	}
	h.render(w, r, "pages/roles/form.html", map[string]any{
		"IsNew":              data.IsNew,
		"Role":               data.Role,
		"Form":               data.Form,
		"GrantedPermissions": data.Granted,
		"PermissionDefs":     authz.Definitions(),
		"Errors":             data.Errors,
		"FormAction":         action,
	}, status)
}

func (h *Handler) renderFormError(w http.ResponseWriter, r *http.Request, data roleFormData, err error) {
	data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
	status := http.StatusUnprocessableEntity
	if !errors.Is(err, shared.ErrInvalidArgument) && !errors.Is(err, shared.ErrDuplicateName) {
		status = http.StatusInternalServerError
		h.logger.Error("save role", slog.Any("error", err))
	}
	h.renderForm(w, r, data, status)
}

func (h *Handler) renderDelete(w http.ResponseWriter, r *http.Request, role Role, errs formErrors, status int) {
	userCount, err := h.service.UsersWithRole(r.Context(), role.ID)
	if err != nil {
		h.logger.Error("count role users", slog.Any("error", err))
	}
	all, err := h.service.All(r.Context())
	if err != nil {
		h.logger.Error("load roles", slog.Any("error", err))
	}
	others := make([]Role, 0, len(all))
	for _, candidate := range all {
		if candidate.ID != role.ID {
			others = append(others, candidate)
		}
	}
	h.render(w, r, "pages/roles/delete.html", map[string]any{
		"Role":       role,
		"UserCount":  userCount,
		"OtherRoles": others,
		"Errors":     errs,
	}, status)
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
		Title:       "Roles",
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

// parsePermissions maps submitted checkbox values back to the bitmask.
// Unknown names are dropped rather than rejected, matching how unknown
// stored bits are treated.
func parsePermissions(names []string) authz.Permission {
	var perms authz.Permission
	for _, def := range authz.Definitions() {
		for _, name := range names {
			if name == def.Name {
				perms |= def.Permission
			}
		}
	}
	return perms
}
