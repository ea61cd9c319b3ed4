package postgres

import (
	"errors"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// 各数据库的错误码
const (
	pgUniqueViolation   = "23505"
	pgUndefinedTable    = "42P01"
	mysqlDuplicateEntry = 1062
	mysqlNoSuchTable    = 1146
	sqliteUniqueFailed  = "UNIQUE constraint failed"
	sqliteNoSuchTable   = "no such table"
)

// isDuplicateKey 是否违反唯一约束
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), sqliteUniqueFailed)
}

// isUndefinedTable 表尚未创建
func isUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlNoSuchTable
	}
	return strings.Contains(err.Error(), sqliteNoSuchTable)
}
