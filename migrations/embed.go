// Package migrations встраивает SQL-миграции для golang-migrate (источник iofs).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
