package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/equip-health/equip/internal/middleware"
	"github.com/equip-health/equip/internal/services"
)

// Router owns the HTTP surface and the services behind it.
type Router struct {
	store       Store
	directory   *services.FacilityDirectory
	auth        *services.AuthService
	registers   *services.RegisterService
	records     *services.RecordService
	reports     *services.ReportService
	users       *services.UserService
	portability *services.PortabilityService
}

func NewRouter(store Store, directory *services.FacilityDirectory) *Router {
	agg := services.NewAggregator(directory)
	return &Router{
		store:       store,
		directory:   directory,
		auth:        services.NewAuthService(store, middleware.SignToken),
		registers:   services.NewRegisterService(store),
		records:     services.NewRecordService(store).WithWarnings(logEvalWarning),
		reports:     services.NewReportService(store, agg),
		users:       services.NewUserService(store, directory),
		portability: services.NewPortabilityService(store, directory),
	}
}

func logEvalWarning(expr string, err error) {
	log.Printf("expression warning: %q: %v", expr, err)
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", rt.handleHealth)
	mux.HandleFunc("/api/auth/login", rt.handleLogin)
	mux.HandleFunc("/api/auth/change-password", rt.handleChangePassword)
	mux.HandleFunc("/api/registers", rt.handleRegisters)
	mux.HandleFunc("/api/registers/", rt.handleRegisterScoped)
	mux.HandleFunc("/api/records/", rt.handleRecordScoped)
	mux.HandleFunc("/api/reports", rt.handleReports)
	mux.HandleFunc("/api/reports/", rt.handleReportScoped)
	mux.HandleFunc("/api/indicators", rt.handleIndicators)
	mux.HandleFunc("/api/indicators/", rt.handleIndicatorScoped)
	mux.HandleFunc("/api/users", rt.handleUsers)
	mux.HandleFunc("/api/users/", rt.handleUserScoped)
	mux.HandleFunc("/api/roles", rt.handleRoles)
	mux.HandleFunc("/api/roles/", rt.handleRoleScoped)
	mux.HandleFunc("/api/directory/values", rt.handleDirectoryValues)
	mux.HandleFunc("/api/directory/facilities", rt.handleDirectoryFacilities)
	mux.HandleFunc("/api/directory/csos", rt.handleDirectoryCSOs)
	mux.HandleFunc("/api/portability/export", rt.handlePortabilityExport)
	mux.HandleFunc("/api/portability/import", rt.handlePortabilityImport)
	mux.HandleFunc("/api/backup", rt.handleBackup)
	mux.HandleFunc("/api/restore", rt.handleRestore)
}

// --- plumbing ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": se.Message, "code": string(se.Code)})
		return
	}
	log.Printf("api: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, services.NewInvalidError("malformed request body"))
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// currentUser resolves the request's verified claims to the stored account.
func (rt *Router) currentUser(r *http.Request) (*services.User, error) {
	uid, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return nil, services.NewUnauthorizedError("login required")
	}
	u, err := rt.store.GetUser(uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, services.NewUnauthorizedError("account no longer exists")
	}
	return u, nil
}

// pathTail splits the path after prefix into at most two segments:
// "{id}" or "{id}/{action}".
func pathTail(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}

// --- health and auth ---

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := rt.auth.ChangePassword(actor.ID, req.Current, req.Next); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- registers and records ---

type registerRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []*services.Field `json:"fields"`
}

func (rt *Router) handleRegisters(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		regs, err := rt.registers.ListRegisters(actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, regs)
	case http.MethodPost:
		var req registerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		reg, err := rt.registers.CreateRegister(actor, req.Name, req.Description, req.Fields)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, reg)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleRegisterScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, action := pathTail(r.URL.Path, "/api/registers/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		rt.handleRegisterByID(w, r, actor, id)
	case "records":
		rt.handleRegisterRecords(w, r, actor, id)
	case "export.csv":
		rt.handleRegisterExportCSV(w, r, id)
	default:
		if sub, fieldID, ok := strings.Cut(action, "/"); ok && sub == "fields" {
			rt.handleRegisterField(w, r, actor, id, fieldID)
			return
		}
		if action == "fields" {
			rt.handleRegisterField(w, r, actor, id, "")
			return
		}
		http.NotFound(w, r)
	}
}

func (rt *Router) handleRegisterField(w http.ResponseWriter, r *http.Request, actor *services.User, registerID, fieldID string) {
	switch r.Method {
	case http.MethodPost:
		if fieldID != "" {
			http.NotFound(w, r)
			return
		}
		var field services.Field
		if !decodeBody(w, r, &field) {
			return
		}
		if err := rt.registers.AddField(actor, registerID, &field); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, &field)
	case http.MethodPut:
		var field services.Field
		if !decodeBody(w, r, &field) {
			return
		}
		field.ID = fieldID
		if err := rt.registers.UpdateField(actor, registerID, &field); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := rt.registers.RemoveField(actor, registerID, fieldID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleRegisterByID(w http.ResponseWriter, r *http.Request, actor *services.User, id string) {
	switch r.Method {
	case http.MethodGet:
		reg, err := rt.registers.GetRegister(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if reg == nil {
			writeError(w, services.NewNotFoundError("register not found"))
			return
		}
		writeJSON(w, http.StatusOK, reg)
	case http.MethodPut:
		var req registerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := rt.registers.UpdateRegister(actor, id, req.Name, req.Description, req.Fields); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := rt.registers.DeleteRegister(actor, id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleRegisterRecords(w http.ResponseWriter, r *http.Request, actor *services.User, registerID string) {
	switch r.Method {
	case http.MethodGet:
		records, err := rt.records.List(registerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	case http.MethodPost:
		var values map[string]any
		if !decodeBody(w, r, &values) {
			return
		}
		rec, err := rt.records.Submit(actor, registerID, values)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleRegisterExportCSV(w http.ResponseWriter, r *http.Request, registerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reg, err := rt.registers.GetRegister(registerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if reg == nil {
		writeError(w, services.NewNotFoundError("register not found"))
		return
	}
	records, err := rt.records.List(registerID)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := services.ExportRecordsCSV(reg, records)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="records.csv"`)
	_, _ = w.Write(out)
}

func (rt *Router) handleRecordScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, _ := pathTail(r.URL.Path, "/api/records/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := rt.records.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var values map[string]any
		if !decodeBody(w, r, &values) {
			return
		}
		rec, err := rt.records.Update(actor, id, values)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := rt.records.Delete(actor, id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

// --- reports ---

type reportRequest struct {
	Name       string             `json:"name"`
	RegisterID string             `json:"register_id"`
	Metrics    []*services.Metric `json:"metrics"`
}

type runRequest struct {
	Date     string                  `json:"date"`
	Location services.LocationFilter `json:"location"`
}

func (rt *Router) handleReports(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		reps, err := rt.reports.ListReports()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reps)
	case http.MethodPost:
		var req reportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rep, err := rt.reports.CreateReport(actor, req.Name, req.RegisterID, req.Metrics)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rep)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleReportScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, action := pathTail(r.URL.Path, "/api/reports/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		switch r.Method {
		case http.MethodPut:
			var req reportRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if err := rt.reports.UpdateReport(actor, id, req.Name, req.Metrics); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		case http.MethodDelete:
			if err := rt.reports.DeleteReport(actor, id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		default:
			methodNotAllowed(w)
		}
	case "run":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req runRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ref, err := parseRunDate(req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		run, err := rt.reports.RunReport(id, ref, req.Location)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "export.csv":
		rt.handleReportExportCSV(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleReportExportCSV(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ref, err := parseRunDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	loc := services.LocationFilter{
		Region:   r.URL.Query().Get("region"),
		Zone:     r.URL.Query().Get("zone"),
		District: r.URL.Query().Get("district"),
		Facility: r.URL.Query().Get("facility"),
	}
	run, err := rt.reports.RunReport(id, ref, loc)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := rt.store.GetReport(id)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := services.ExportReportCSV(rep, run)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
	_, _ = w.Write(out)
}

func parseRunDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, services.NewInvalidError("invalid date: " + s)
	}
	return t, nil
}

// --- indicators ---

func (rt *Router) handleIndicators(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		inds, err := rt.reports.ListIndicators(actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inds)
	case http.MethodPost:
		var ind services.Indicator
		if !decodeBody(w, r, &ind) {
			return
		}
		created, err := rt.reports.CreateIndicator(actor, &ind)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleIndicatorScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, action := pathTail(r.URL.Path, "/api/indicators/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		switch r.Method {
		case http.MethodPut:
			var ind services.Indicator
			if !decodeBody(w, r, &ind) {
				return
			}
			ind.ID = id
			if err := rt.reports.UpdateIndicator(actor, &ind); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		case http.MethodDelete:
			if err := rt.reports.DeleteIndicator(actor, id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		default:
			methodNotAllowed(w)
		}
	case "run":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		res, err := rt.reports.RunIndicator(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		http.NotFound(w, r)
	}
}

// --- users and roles ---

type userRequest struct {
	Username          string         `json:"username"`
	Password          string         `json:"password"`
	RoleID            string         `json:"role_id"`
	Scope             services.Scope `json:"scope"`
	AssignedRegisters []string       `json:"assigned_registers"`
}

func (rt *Router) handleUsers(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		users, err := rt.users.ListUsers(actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req userRequest
		if !decodeBody(w, r, &req) {
			return
		}
		u, err := rt.users.CreateUser(actor, req.Username, req.Password, req.RoleID, req.Scope, req.AssignedRegisters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, action := pathTail(r.URL.Path, "/api/users/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		switch r.Method {
		case http.MethodPut:
			var req userRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if err := rt.users.UpdateUser(actor, id, req.RoleID, req.Scope, req.AssignedRegisters); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		case http.MethodDelete:
			if err := rt.users.DeleteUser(actor, id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		default:
			methodNotAllowed(w)
		}
	case "reset-password":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := rt.users.ResetPassword(actor, id, req.Password); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

type roleRequest struct {
	Name     string               `json:"name"`
	MaxScope services.ScopeKind   `json:"max_scope"`
	AllowCSO bool                 `json:"allow_cso"`
	Defaults services.Permissions `json:"defaults"`
}

func (rt *Router) handleRoles(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := rt.users.ListRoles()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	case http.MethodPost:
		var req roleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		role, err := rt.users.CreateRole(actor, req.Name, req.MaxScope, req.AllowCSO, req.Defaults)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, _ := pathTail(r.URL.Path, "/api/roles/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var role services.Role
		if !decodeBody(w, r, &role) {
			return
		}
		role.ID = id
		if err := rt.users.UpdateRole(actor, &role); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := rt.users.DeleteRole(actor, id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

// --- directory ---

func (rt *Router) handleDirectoryValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	level := services.ScopeKind(r.URL.Query().Get("level"))
	filter := services.LocationFilter{
		Region:   r.URL.Query().Get("region"),
		Zone:     r.URL.Query().Get("zone"),
		District: r.URL.Query().Get("district"),
	}
	writeJSON(w, http.StatusOK, rt.directory.Values(level, filter))
}

func (rt *Router) handleDirectoryFacilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, rt.directory.Facilities())
}

func (rt *Router) handleDirectoryCSOs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if district := r.URL.Query().Get("district"); district != "" {
		writeJSON(w, http.StatusOK, rt.directory.CSOsForDistrict(district))
		return
	}
	scope := services.Scope{
		Kind:  services.ScopeKind(r.URL.Query().Get("kind")),
		Value: r.URL.Query().Get("value"),
	}
	writeJSON(w, http.StatusOK, rt.directory.CSOsForScope(scope))
}

// --- portability and backups ---

func (rt *Router) handlePortabilityExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := rt.portability.BuildExportPayload(actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) handlePortabilityImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload services.ExportPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	res, err := rt.portability.MergeInto(actor, &payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	payload, err := rt.portability.BuildExportPayload(actor)
	if err != nil {
		writeError(w, err)
		return
	}
	env, err := services.EncryptBackup(payload, req.Passphrase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (rt *Router) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actor, err := rt.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Passphrase string                   `json:"passphrase"`
		Envelope   *services.BackupEnvelope `json:"envelope"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var payload services.ExportPayload
	if err := services.DecryptBackup(req.Envelope, req.Passphrase, &payload); err != nil {
		writeError(w, err)
		return
	}
	res, err := rt.portability.MergeInto(actor, &payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
