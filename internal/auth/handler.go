package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
	"github.com/aerarium-app/aerarium/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router. Mounted under
// /auth by the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/password/forgot", h.showForgotPassword)
	r.Post("/password/forgot", h.handleForgotPassword)
	r.Get("/password/reset", h.showResetPassword)
	r.Post("/password/reset", h.handleResetPassword)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "pages/login.html", "Log in", loginPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = "Please fill in this field correctly."
			}
		}
	}

	if len(errs) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		if err != nil {
			errs["general"] = "Invalid email address or password."
		} else {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				h.logger.Error("session missing during login")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			// A fresh ID on login keeps a pre-auth cookie from ever
			// naming an authenticated session.
			if err := h.sessionManager.Rotate(r.Context(), sess); err != nil {
				h.logger.Warn("rotate session", slog.Any("error", err))
			}
			sess.SetUser(strconv.FormatInt(user.ID, 10))
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.Name + "."})
			expiresAt := time.Now().Add(h.sessionManager.TTL())
			if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
				h.logger.Warn("register session", slog.Any("error", err))
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderPage(w, r, "pages/login.html", "Log in", loginPageData{Form: form, Errors: errs}, http.StatusUnprocessableEntity)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

type forgotPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "pages/password/forgot.html", "Reset password", forgotPageData{}, http.StatusOK)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("email")
	if err := h.validator.Var(email, "required,email"); err != nil {
		h.renderPage(w, r, "pages/password/forgot.html", "Reset password",
			forgotPageData{Form: loginForm{Email: email}, Errors: map[string]string{"Email": "Please enter a valid email address."}},
			http.StatusUnprocessableEntity)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), email); err != nil {
		h.logger.Error("request password reset", slog.Any("error", err))
		h.renderPage(w, r, "pages/password/forgot.html", "Reset password",
			forgotPageData{Form: loginForm{Email: email}, Errors: map[string]string{"general": shared.UserSafeMessage(err)}},
			http.StatusInternalServerError)
		return
	}
	// Same answer whether or not the address exists.
	h.redirectWithFlash(w, r, "/auth/login", "success", "If that address belongs to an account, a reset link is on its way.")
}

type resetPageData struct {
	Token  string
	Errors map[string]string
}

func (h *Handler) showResetPassword(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		h.redirectWithFlash(w, r, "/auth/login", "error", "This link is not valid.")
		return
	}
	h.renderPage(w, r, "pages/password/reset.html", "Choose a new password", resetPageData{Token: tok}, http.StatusOK)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	tok := r.URL.Query().Get("token")
	password := r.PostFormValue("password")
	confirmation := r.PostFormValue("password_confirmation")

	errs := map[string]string{}
	if len(password) < 8 {
		errs["Password"] = "The password must be at least 8 characters long."
	}
	if password != confirmation {
		errs["PasswordConfirmation"] = "The passwords do not match."
	}
	if len(errs) > 0 {
		h.renderPage(w, r, "pages/password/reset.html", "Choose a new password", resetPageData{Token: tok, Errors: errs}, http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), tok, password); err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			h.redirectWithFlash(w, r, "/auth/password/forgot", "error", "This link has expired. Please request a new one.")
		case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrSignatureInvalid), errors.Is(err, shared.ErrNotFound):
			h.redirectWithFlash(w, r, "/auth/login", "error", "This link is not valid.")
		default:
			h.logger.Error("confirm password reset", slog.Any("error", err))
			h.renderPage(w, r, "pages/password/reset.html", "Choose a new password",
				resetPageData{Token: tok, Errors: map[string]string{"general": shared.UserSafeMessage(err)}},
				http.StatusInternalServerError)
		}
		return
	}
	h.redirectWithFlash(w, r, "/auth/login", "success", "Your password has been updated. Please sign in.")
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, name, title string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
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

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}
