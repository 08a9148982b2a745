package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	if conn == nil || conn.Dialector == nil {
		return false
	}
	return conn.Dialector.Name() == DialectSQLite
}

// CaseInsensitiveLikeExpr returns a case-insensitive LIKE condition for column.
func CaseInsensitiveLikeExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '\\'", column)
	}
	return fmt.Sprintf("%s ILIKE ? ESCAPE '\\'", column)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ContainsPattern builds a %term% LIKE argument matching term literally.
func ContainsPattern(conn *gorm.DB, term string) string {
	term = likeEscaper.Replace(term)
	if IsSQLite(conn) {
		term = strings.ToLower(term)
	}
	return "%" + term + "%"
}
