package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/equip-health/equip/internal/services"
)

// SQLiteStore persists the full application state. Structured sub-documents
// (field lists, record values, metric sets) are stored as JSON columns; the
// rows carry the keys the queries filter on.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const timeLayout = time.RFC3339

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, out any) {
	if strings.TrimSpace(s) == "" {
		return
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		log.Printf("sqlite store: decode json: %v", err)
	}
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- registers ---

func (s *SQLiteStore) InsertRegister(r *services.Register) error {
	fields, err := encodeJSON(r.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO registers (id, name, description, fields, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, toNullString(r.Description), fields, toNullString(r.CreatedBy),
		encodeTime(r.CreatedAt), toNullString(encodeTime(r.UpdatedAt)))
	return err
}

func (s *SQLiteStore) GetRegister(id string) (*services.Register, error) {
	row := s.db.QueryRow(`SELECT id, name, description, fields, created_by, created_at, updated_at
		FROM registers WHERE id = ?`, id)
	reg, err := scanRegister(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reg, err
}

func (s *SQLiteStore) UpdateRegister(r *services.Register) error {
	fields, err := encodeJSON(r.Fields)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE registers SET name = ?, description = ?, fields = ?, updated_at = ? WHERE id = ?`,
		r.Name, toNullString(r.Description), fields, toNullString(encodeTime(r.UpdatedAt)), r.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "register not found")
}

func (s *SQLiteStore) DeleteRegister(id string) error {
	res, err := s.db.Exec(`DELETE FROM registers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "register not found")
}

func (s *SQLiteStore) ListRegisters() ([]*services.Register, error) {
	rows, err := s.db.Query(`SELECT id, name, description, fields, created_by, created_at, updated_at
		FROM registers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Register
	for rows.Next() {
		reg, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegister(row rowScanner) (*services.Register, error) {
	var reg services.Register
	var desc, by, updated sql.NullString
	var fields, created string
	if err := row.Scan(&reg.ID, &reg.Name, &desc, &fields, &by, &created, &updated); err != nil {
		return nil, err
	}
	reg.Description = fromNullString(desc)
	reg.CreatedBy = fromNullString(by)
	reg.CreatedAt = decodeTime(created)
	reg.UpdatedAt = decodeTime(fromNullString(updated))
	decodeJSON(fields, &reg.Fields)
	return &reg, nil
}

// --- records ---

func (s *SQLiteStore) InsertRecord(rec *services.Record) error {
	values, err := encodeJSON(rec.Values)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO records (id, register_id, field_values, submitted_by, submitted_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.RegisterID, values, toNullString(rec.SubmittedBy), encodeTime(rec.SubmittedAt))
	return err
}

func (s *SQLiteStore) GetRecord(id string) (*services.Record, error) {
	row := s.db.QueryRow(`SELECT id, register_id, field_values, submitted_by, submitted_at FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) UpdateRecord(rec *services.Record) error {
	values, err := encodeJSON(rec.Values)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE records SET field_values = ? WHERE id = ?`, values, rec.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "record not found")
}

func (s *SQLiteStore) DeleteRecord(id string) error {
	res, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "record not found")
}

func (s *SQLiteStore) DeleteRecordsByRegister(registerID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM records WHERE register_id = ?`, registerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ListRecords(registerID string) ([]*services.Record, error) {
	query := `SELECT id, register_id, field_values, submitted_by, submitted_at FROM records`
	args := []any{}
	if registerID != "" {
		query += ` WHERE register_id = ?`
		args = append(args, registerID)
	}
	query += ` ORDER BY submitted_at`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (*services.Record, error) {
	var rec services.Record
	var values, subAt string
	var subBy sql.NullString
	if err := row.Scan(&rec.ID, &rec.RegisterID, &values, &subBy, &subAt); err != nil {
		return nil, err
	}
	rec.SubmittedBy = fromNullString(subBy)
	rec.SubmittedAt = decodeTime(subAt)
	decodeJSON(values, &rec.Values)
	return &rec, nil
}

// --- users and roles ---

func (s *SQLiteStore) InsertUser(u *services.User) error {
	assigned, err := encodeJSON(u.AssignedRegisters)
	if err != nil {
		return err
	}
	csos, err := encodeJSON(u.AssignedCSOs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO users (id, username, pass_hash, must_change_password, role_id,
		scope_kind, scope_value, assigned_registers, assigned_csos,
		can_manage_registers, can_manage_users, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PassHash, boolToInt64(u.MustChangePassword), toNullString(u.RoleID),
		string(u.Scope.Kind), toNullString(u.Scope.Value), assigned, csos,
		boolToInt64(u.Permissions.CanManageRegisters), boolToInt64(u.Permissions.CanManageUsers),
		encodeTime(u.CreatedAt))
	return err
}

func (s *SQLiteStore) GetUser(id string) (*services.User, error) {
	row := s.db.QueryRow(userSelect+` WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteStore) FindUserByUsername(username string) (*services.User, error) {
	row := s.db.QueryRow(userSelect+` WHERE username = ? COLLATE NOCASE`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteStore) UpdateUser(u *services.User) error {
	assigned, err := encodeJSON(u.AssignedRegisters)
	if err != nil {
		return err
	}
	csos, err := encodeJSON(u.AssignedCSOs)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE users SET pass_hash = ?, must_change_password = ?, role_id = ?,
		scope_kind = ?, scope_value = ?, assigned_registers = ?, assigned_csos = ?,
		can_manage_registers = ?, can_manage_users = ? WHERE id = ?`,
		u.PassHash, boolToInt64(u.MustChangePassword), toNullString(u.RoleID),
		string(u.Scope.Kind), toNullString(u.Scope.Value), assigned, csos,
		boolToInt64(u.Permissions.CanManageRegisters), boolToInt64(u.Permissions.CanManageUsers), u.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "user not found")
}

func (s *SQLiteStore) DeleteUser(id string) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "user not found")
}

func (s *SQLiteStore) ListUsers() ([]*services.User, error) {
	rows, err := s.db.Query(userSelect + ` ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const userSelect = `SELECT id, username, pass_hash, must_change_password, role_id,
	scope_kind, scope_value, assigned_registers, assigned_csos,
	can_manage_registers, can_manage_users, created_at FROM users`

func scanUser(row rowScanner) (*services.User, error) {
	var u services.User
	var mustChange, mReg, mUser int64
	var roleID, scopeVal, assigned, csos sql.NullString
	var scopeKind, created string
	if err := row.Scan(&u.ID, &u.Username, &u.PassHash, &mustChange, &roleID,
		&scopeKind, &scopeVal, &assigned, &csos, &mReg, &mUser, &created); err != nil {
		return nil, err
	}
	u.MustChangePassword = int64ToBool(mustChange)
	u.RoleID = fromNullString(roleID)
	u.Scope = services.Scope{Kind: services.ScopeKind(scopeKind), Value: fromNullString(scopeVal)}
	decodeJSON(fromNullString(assigned), &u.AssignedRegisters)
	decodeJSON(fromNullString(csos), &u.AssignedCSOs)
	u.Permissions = services.Permissions{
		CanManageRegisters: int64ToBool(mReg),
		CanManageUsers:     int64ToBool(mUser),
	}
	u.CreatedAt = decodeTime(created)
	return &u, nil
}

func (s *SQLiteStore) InsertRole(r *services.Role) error {
	_, err := s.db.Exec(`INSERT INTO roles (id, name, max_scope, allow_cso, can_manage_registers, can_manage_users, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, string(r.MaxScope), boolToInt64(r.AllowCSO),
		boolToInt64(r.Defaults.CanManageRegisters), boolToInt64(r.Defaults.CanManageUsers), boolToInt64(r.IsDefault))
	return err
}

func (s *SQLiteStore) GetRole(id string) (*services.Role, error) {
	row := s.db.QueryRow(`SELECT id, name, max_scope, allow_cso, can_manage_registers, can_manage_users, is_default
		FROM roles WHERE id = ?`, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) UpdateRole(r *services.Role) error {
	res, err := s.db.Exec(`UPDATE roles SET name = ?, max_scope = ?, allow_cso = ?,
		can_manage_registers = ?, can_manage_users = ?, is_default = ? WHERE id = ?`,
		r.Name, string(r.MaxScope), boolToInt64(r.AllowCSO),
		boolToInt64(r.Defaults.CanManageRegisters), boolToInt64(r.Defaults.CanManageUsers),
		boolToInt64(r.IsDefault), r.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "role not found")
}

func (s *SQLiteStore) DeleteRole(id string) error {
	res, err := s.db.Exec(`DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "role not found")
}

func (s *SQLiteStore) ListRoles() ([]*services.Role, error) {
	rows, err := s.db.Query(`SELECT id, name, max_scope, allow_cso, can_manage_registers, can_manage_users, is_default
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRole(row rowScanner) (*services.Role, error) {
	var r services.Role
	var maxScope string
	var allowCSO, mReg, mUser, isDefault int64
	if err := row.Scan(&r.ID, &r.Name, &maxScope, &allowCSO, &mReg, &mUser, &isDefault); err != nil {
		return nil, err
	}
	r.MaxScope = services.ScopeKind(maxScope)
	r.AllowCSO = int64ToBool(allowCSO)
	r.Defaults = services.Permissions{
		CanManageRegisters: int64ToBool(mReg),
		CanManageUsers:     int64ToBool(mUser),
	}
	r.IsDefault = int64ToBool(isDefault)
	return &r, nil
}

// --- reports and indicators ---

func (s *SQLiteStore) InsertReport(r *services.Report) error {
	metrics, err := encodeJSON(r.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO reports (id, name, register_id, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.RegisterID, metrics, encodeTime(r.CreatedAt), encodeTime(r.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetReport(id string) (*services.Report, error) {
	row := s.db.QueryRow(`SELECT id, name, register_id, metrics, created_at, updated_at FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) UpdateReport(r *services.Report) error {
	metrics, err := encodeJSON(r.Metrics)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE reports SET name = ?, metrics = ?, updated_at = ? WHERE id = ?`,
		r.Name, metrics, encodeTime(r.UpdatedAt), r.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "report not found")
}

func (s *SQLiteStore) DeleteReport(id string) error {
	res, err := s.db.Exec(`DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "report not found")
}

func (s *SQLiteStore) ListReports() ([]*services.Report, error) {
	rows, err := s.db.Query(`SELECT id, name, register_id, metrics, created_at, updated_at FROM reports ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row rowScanner) (*services.Report, error) {
	var r services.Report
	var metrics, created, updated string
	if err := row.Scan(&r.ID, &r.Name, &r.RegisterID, &metrics, &created, &updated); err != nil {
		return nil, err
	}
	decodeJSON(metrics, &r.Metrics)
	r.CreatedAt = decodeTime(created)
	r.UpdatedAt = decodeTime(updated)
	return &r, nil
}

func (s *SQLiteStore) InsertIndicator(ind *services.Indicator) error {
	elements, err := encodeJSON(ind.Elements)
	if err != nil {
		return err
	}
	disaggs, err := encodeJSON(ind.Disaggregations)
	if err != nil {
		return err
	}
	filters, err := encodeJSON(ind.Filters)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO indicators (id, name, description, register_id, elements,
		disaggregations, filters, created_by, created_at, shared)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ind.ID, ind.Name, toNullString(ind.Description), ind.RegisterID, elements,
		disaggs, filters, toNullString(ind.CreatedBy), encodeTime(ind.CreatedAt), boolToInt64(ind.Shared))
	return err
}

func (s *SQLiteStore) GetIndicator(id string) (*services.Indicator, error) {
	row := s.db.QueryRow(indicatorSelect+` WHERE id = ?`, id)
	ind, err := scanIndicator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ind, err
}

func (s *SQLiteStore) UpdateIndicator(ind *services.Indicator) error {
	elements, err := encodeJSON(ind.Elements)
	if err != nil {
		return err
	}
	disaggs, err := encodeJSON(ind.Disaggregations)
	if err != nil {
		return err
	}
	filters, err := encodeJSON(ind.Filters)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE indicators SET name = ?, description = ?, elements = ?,
		disaggregations = ?, filters = ?, shared = ? WHERE id = ?`,
		ind.Name, toNullString(ind.Description), elements, disaggs, filters,
		boolToInt64(ind.Shared), ind.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "indicator not found")
}

func (s *SQLiteStore) DeleteIndicator(id string) error {
	res, err := s.db.Exec(`DELETE FROM indicators WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res, "indicator not found")
}

func (s *SQLiteStore) ListIndicators() ([]*services.Indicator, error) {
	rows, err := s.db.Query(indicatorSelect + ` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

const indicatorSelect = `SELECT id, name, description, register_id, elements,
	disaggregations, filters, created_by, created_at, shared FROM indicators`

func scanIndicator(row rowScanner) (*services.Indicator, error) {
	var ind services.Indicator
	var desc, disaggs, filters, by sql.NullString
	var elements, created string
	var shared int64
	if err := row.Scan(&ind.ID, &ind.Name, &desc, &ind.RegisterID, &elements,
		&disaggs, &filters, &by, &created, &shared); err != nil {
		return nil, err
	}
	ind.Description = fromNullString(desc)
	decodeJSON(elements, &ind.Elements)
	decodeJSON(fromNullString(disaggs), &ind.Disaggregations)
	decodeJSON(fromNullString(filters), &ind.Filters)
	ind.CreatedBy = fromNullString(by)
	ind.CreatedAt = decodeTime(created)
	ind.Shared = int64ToBool(shared)
	return &ind, nil
}

// --- facility directory ---

// ReplaceDirectory swaps the stored facility directory wholesale. The
// directory is reference data loaded from files, not user-edited rows.
func (s *SQLiteStore) ReplaceDirectory(facilities []services.Facility, csos []services.CSOMapping) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM facilities`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM cso_mappings`); err != nil {
		return err
	}
	for _, f := range facilities {
		if _, err := tx.Exec(`INSERT INTO facilities (name, subdistrict, district, zone, region) VALUES (?, ?, ?, ?, ?)`,
			f.Name, toNullString(f.Subdistrict), toNullString(f.District), toNullString(f.Zone), toNullString(f.Region)); err != nil {
			return err
		}
	}
	for _, c := range csos {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO cso_mappings (district, cso) VALUES (?, ?)`, c.District, c.CSO); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadDirectory reads the stored facility rows back into a directory.
func (s *SQLiteStore) LoadDirectory() (*services.FacilityDirectory, error) {
	rows, err := s.db.Query(`SELECT name, subdistrict, district, zone, region FROM facilities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var facilities []services.Facility
	for rows.Next() {
		var f services.Facility
		var sub, dist, zone, region sql.NullString
		if err := rows.Scan(&f.Name, &sub, &dist, &zone, &region); err != nil {
			return nil, err
		}
		f.Subdistrict = fromNullString(sub)
		f.District = fromNullString(dist)
		f.Zone = fromNullString(zone)
		f.Region = fromNullString(region)
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	csoRows, err := s.db.Query(`SELECT district, cso FROM cso_mappings`)
	if err != nil {
		return nil, err
	}
	defer csoRows.Close()
	var csos []services.CSOMapping
	for csoRows.Next() {
		var c services.CSOMapping
		if err := csoRows.Scan(&c.District, &c.CSO); err != nil {
			return nil, err
		}
		csos = append(csos, c)
	}
	if err := csoRows.Err(); err != nil {
		return nil, err
	}
	return services.NewFacilityDirectory(facilities, csos), nil
}

// --- audit ---

func (s *SQLiteStore) AddAudit(entry services.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit_log (at, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		encodeTime(entry.Time), toNullString(entry.Actor), entry.Action,
		toNullString(entry.Target), toNullString(entry.Note))
	if err != nil {
		log.Printf("sqlite store: add audit: %v", err)
	}
}

func requireRowAffected(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return services.NewNotFoundError(msg)
	}
	return nil
}
