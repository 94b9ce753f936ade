package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/equip-health/equip/internal/api"
	dbstore "github.com/equip-health/equip/internal/db"
	"github.com/equip-health/equip/internal/services"
	"github.com/equip-health/equip/internal/utils"
)

// openStore opens the SQLite-backed store when EQUIP_SQLITE_PATH is set and
// falls back to the in-memory store otherwise. When EQUIP_DIRECTORY_FILE
// points at a facility listing, the directory is replaced wholesale on boot
// so a refreshed master list takes effect without manual cleanup.
func openStore() (api.Store, *services.FacilityDirectory, error) {
	sqlitePath := os.Getenv("EQUIP_SQLITE_PATH")
	if sqlitePath == "" {
		log.Printf("EQUIP_SQLITE_PATH not set, using in-memory store")
		facilities, csos, err := readDirectoryFile()
		if err != nil {
			return nil, nil, err
		}
		return api.NewMemoryStore(), services.NewFacilityDirectory(facilities, csos), nil
	}

	if dir := filepath.Dir(sqlitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(sqlitePath))
	sqliteDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := dbstore.RunMigrations(sqliteDB, os.Getenv("EQUIP_MIGRATIONS_DIR")); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := dbstore.NewSQLiteStore(sqliteDB)
	if err != nil {
		return nil, nil, fmt.Errorf("init sqlite store: %w", err)
	}

	if os.Getenv("EQUIP_DIRECTORY_FILE") != "" {
		facilities, csos, err := readDirectoryFile()
		if err != nil {
			return nil, nil, err
		}
		if err := store.ReplaceDirectory(facilities, csos); err != nil {
			return nil, nil, fmt.Errorf("store directory: %w", err)
		}
	}
	directory, err := store.LoadDirectory()
	if err != nil {
		return nil, nil, fmt.Errorf("load directory: %w", err)
	}
	return store, directory, nil
}

func readDirectoryFile() ([]services.Facility, []services.CSOMapping, error) {
	path := os.Getenv("EQUIP_DIRECTORY_FILE")
	if path == "" {
		return nil, nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read directory file: %w", err)
	}
	var doc struct {
		Facilities  []services.Facility   `json:"facilities"`
		CSOMappings []services.CSOMapping `json:"cso_mappings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	return doc.Facilities, doc.CSOMappings, nil
}

// seedDefaults creates the built-in administrator role and the first admin
// account on an empty store. The admin must change the bootstrap password
// on first login.
func seedDefaults(store api.Store) error {
	users, err := store.ListUsers()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	roles, err := store.ListRoles()
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	var adminRole *services.Role
	for _, r := range roles {
		if r.IsDefault {
			adminRole = r
			break
		}
	}
	if adminRole == nil {
		adminRole = &services.Role{
			ID:        "role-admin",
			Name:      "Administrator",
			MaxScope:  services.ScopeNone,
			AllowCSO:  true,
			IsDefault: true,
			Defaults: services.Permissions{
				CanManageRegisters: true,
				CanManageUsers:     true,
			},
		}
		if err := store.InsertRole(adminRole); err != nil {
			return fmt.Errorf("seed admin role: %w", err)
		}
	}

	password := utils.SafeEnv("EQUIP_ADMIN_PASSWORD", "admin")
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := &services.User{
		ID:                 "admin",
		Username:           utils.SafeEnv("EQUIP_ADMIN_USERNAME", "admin"),
		PassHash:           hash,
		RoleID:             adminRole.ID,
		Scope:              services.GlobalScope(),
		Permissions:        adminRole.Defaults,
		MustChangePassword: true,
	}
	if err := store.InsertUser(admin); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	log.Printf("seeded initial admin account %q", admin.Username)
	return nil
}
