package storage

import "embed"

// Migrations holds the goose SQL files applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
