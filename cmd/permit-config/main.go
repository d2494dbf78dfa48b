package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/stores"
	"github.com/oarkflow/permit/utils"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config convert <input> <output>  - Convert between formats")
	fmt.Println("  permit-config validate <file>           - Validate catalog and matrix")
	fmt.Println("  permit-config stats <file>              - Show configuration statistics")
	fmt.Println("  permit-config apply <file> <sqlite-db>  - Seed a sqlite directory")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fatal("load config", err)
	}
	var data []byte
	switch strings.ToLower(filepath.Ext(os.Args[3])) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = permit.EncodeBinaryConfig(cfg)
	default:
		fatal("convert", fmt.Errorf("unsupported output format: %s", os.Args[3]))
	}
	if err != nil {
		fatal("encode config", err)
	}
	if err := os.WriteFile(os.Args[3], data, 0o644); err != nil {
		fatal("write output", err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", os.Args[3], len(data))
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fatal("load config", err)
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		fatal("validate", err)
	}
	for _, m := range cfg.Memberships {
		if !permit.ValidRole(m.Role) {
			fatal("validate", fmt.Errorf("membership %s/%s: invalid role %s", m.UserID, m.TenantID, m.Role))
		}
	}
	for _, g := range cfg.Grants {
		for _, p := range g.Permissions {
			if !catalog.Contains(permit.Permission(p)) {
				fatal("validate", fmt.Errorf("grant %s/%s: unknown permission %s", g.UserID, g.TenantID, p))
			}
		}
	}
	fmt.Printf("OK: %d permissions, matrix valid\n", len(catalog.Permissions()))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fatal("load config", err)
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		fatal("build catalog", err)
	}
	perms := catalog.Permissions()
	fmt.Printf("Permissions: %d\n", len(perms))

	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, string(p))
	}
	byResource := utils.GroupByResource(keys)
	resources := make([]string, 0, len(byResource))
	for res := range byResource {
		resources = append(resources, res)
	}
	sort.Strings(resources)
	for _, res := range resources {
		fmt.Printf("  %-16s %d\n", res, len(byResource[res]))
	}

	for _, role := range []permit.Role{permit.RoleOwner, permit.RoleAdmin, permit.RoleMember, permit.RoleViewer} {
		fmt.Printf("Role %-8s %d permissions\n", role, len(catalog.RolePermissions(role)))
	}
	fmt.Printf("Tenants: %d, Memberships: %d, Super admins: %d, Grant sets: %d\n",
		len(cfg.Tenants), len(cfg.Memberships), len(cfg.SuperAdmins), len(cfg.Grants))
}

func handleApply() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config apply <file> <sqlite-db>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fatal("load config", err)
	}
	if _, err := cfg.BuildCatalog(); err != nil {
		fatal("validate", err)
	}

	sqlDB, err := sql.Open("sqlite", os.Args[3])
	if err != nil {
		fatal("open sqlite", err)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "permit")
	if err := stores.Migrate(db); err != nil {
		fatal("migrate", err)
	}
	dir := stores.NewSQLDirectory(db)
	if err := cfg.Apply(context.Background(), dir); err != nil {
		fatal("apply", err)
	}
	fmt.Printf("Applied %s to %s\n", os.Args[2], os.Args[3])
}

func loadConfig(path string) (*permit.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loader := permit.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	case ".bin":
		return loader.LoadBinary(data)
	}
	return nil, fmt.Errorf("unsupported format: %s", path)
}

func fatal(op string, err error) {
	fmt.Printf("Error: %s: %v\n", op, err)
	os.Exit(1)
}
