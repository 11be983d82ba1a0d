package admin

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/auth"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/server/validator"
	"github.com/nulzo/uniapi/pkg/api"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	LoginPath = "/login"
	AdminPath = "/admin"
)

// Templates parses the admin pages for gin's HTML renderer.
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/*.html"))
}

// Catalog is the part of the provider catalog the admin page uses.
type Catalog interface {
	List(ctx context.Context) ([]domain.ProviderEntry, error)
	Create(ctx context.Context, entry domain.ProviderEntry) (*domain.ProviderEntry, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	catalog  Catalog
	gate     *auth.Gate
	sessions *auth.Sessions
	logger   *zap.Logger
}

func NewHandler(catalog Catalog, gate *auth.Gate, sessions *auth.Sessions, logger *zap.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		gate:     gate,
		sessions: sessions,
		logger:   logger,
	}
}

type loginPage struct {
	Error        string
	AdminEnabled bool
}

type mappingRow struct {
	Alias  string
	Target string
}

type providerRow struct {
	api.ProviderResponse
	Mappings []mappingRow
}

type dashboardPage struct {
	Providers []providerRow
	Flash     string
	Error     string
	Fields    map[string]string
	Form      providerForm
}

// Root sends browsers to the login page.
//
// GET /
func (h *Handler) Root(c *gin.Context) {
	c.Redirect(http.StatusFound, LoginPath)
}

// LoginPage renders the login form, or skips it for a live session.
//
// GET /login
func (h *Handler) LoginPage(c *gin.Context) {
	if id, err := c.Cookie(auth.SessionCookie); err == nil && h.sessions.Valid(id) {
		c.Redirect(http.StatusSeeOther, AdminPath)
		return
	}
	c.HTML(http.StatusOK, "login.html", loginPage{AdminEnabled: h.gate.AdminEnabled()})
}

// Login checks the submitted admin key and opens a session.
//
// POST /admin
func (h *Handler) Login(c *gin.Context) {
	if !h.gate.AdminEnabled() {
		c.HTML(http.StatusForbidden, "login.html", loginPage{Error: "Admin access is disabled on this server."})
		return
	}

	key := strings.TrimSpace(c.PostForm("api_key"))
	switch h.gate.Classify(key) {
	case auth.RoleAdmin:
	case auth.RoleCaller:
		h.logger.Warn("Caller key used on admin login", zap.String("ip", c.ClientIP()))
		c.HTML(http.StatusForbidden, "login.html", loginPage{Error: "This API key cannot manage providers.", AdminEnabled: true})
		return
	default:
		h.logger.Warn("Failed admin login", zap.String("ip", c.ClientIP()))
		c.HTML(http.StatusUnauthorized, "login.html", loginPage{Error: "Invalid admin key.", AdminEnabled: true})
		return
	}

	remember := c.PostForm("remember_me") != ""
	id, ttl, err := h.sessions.Create(remember)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to open session", err))
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.SessionCookie, id, int(ttl.Seconds()), "/", "", isHTTPS(c), true)
	h.logger.Info("Admin logged in", zap.String("ip", c.ClientIP()), zap.Bool("remember", remember))
	c.Redirect(http.StatusSeeOther, AdminPath)
}

// Logout revokes the session and clears the cookie.
//
// POST /logout
func (h *Handler) Logout(c *gin.Context) {
	if id, err := c.Cookie(auth.SessionCookie); err == nil {
		h.sessions.Revoke(id)
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", isHTTPS(c), true)
	c.Redirect(http.StatusSeeOther, LoginPath)
}

// Dashboard lists the entries next to the add form.
//
// GET /admin
func (h *Handler) Dashboard(c *gin.Context) {
	page := dashboardPage{}
	switch {
	case c.Query("added") != "":
		page.Flash = "Provider " + c.Query("added") + " added."
	case c.Query("deleted") != "":
		page.Flash = "Provider " + c.Query("deleted") + " deleted."
	}
	h.render(c, http.StatusOK, page)
}

// AddProvider creates an entry from the form.
//
// POST /admin/providers
func (h *Handler) AddProvider(c *gin.Context) {
	var form providerForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusBadRequest, dashboardPage{
			Error:  "Please fix the highlighted fields.",
			Fields: validator.ParseValidationError(err),
			Form:   form,
		})
		return
	}

	entry, verrs := form.Entry()
	if verrs != nil {
		h.render(c, http.StatusBadRequest, dashboardPage{
			Error:  "Please fix the highlighted fields.",
			Fields: verrs,
			Form:   form,
		})
		return
	}

	created, err := h.catalog.Create(c.Request.Context(), entry)
	if err != nil {
		page := dashboardPage{Form: form}
		status := describe(err, &page)
		h.render(c, status, page)
		return
	}

	c.Redirect(http.StatusSeeOther, AdminPath+"?added="+created.ID)
}

// DeleteProvider removes an entry.
//
// POST /admin/providers/:id/delete
func (h *Handler) DeleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		page := dashboardPage{}
		status := describe(err, &page)
		h.render(c, status, page)
		return
	}
	c.Redirect(http.StatusSeeOther, AdminPath+"?deleted="+id)
}

func (h *Handler) render(c *gin.Context, status int, page dashboardPage) {
	entries, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list providers", zap.Error(err))
		if page.Error == "" {
			page.Error = "Could not load providers."
		}
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
	}

	page.Providers = make([]providerRow, 0, len(entries))
	for _, e := range entries {
		row := providerRow{ProviderResponse: api.NewProviderResponse(e)}
		for alias, target := range e.ModelMapping {
			row.Mappings = append(row.Mappings, mappingRow{Alias: alias, Target: target})
		}
		sort.Slice(row.Mappings, func(i, j int) bool { return row.Mappings[i].Alias < row.Mappings[j].Alias })
		page.Providers = append(page.Providers, row)
	}

	c.HTML(status, "admin.html", page)
}

// describe fills the page's error fields from err and returns the status.
func describe(err error, page *dashboardPage) int {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		page.Error = "Unexpected error."
		return http.StatusInternalServerError
	}

	page.Error = apiErr.Message
	if fields, ok := apiErr.Extensions["errors"].(map[string]string); ok {
		page.Fields = fields
	}
	return apiErr.Status
}

func isHTTPS(c *gin.Context) bool {
	return c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}
