/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Column describes an existing table column.
type Column struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string
	AutoIncrement bool
}

// SchemaManager introspects the schema behind a connection.
type SchemaManager interface {
	ListTableNames(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]Column, error)
}

// SchemaManagerFactory creates the schema manager of a connection.
type SchemaManagerFactory interface {
	CreateSchemaManager(conn *Connection) (SchemaManager, error)
}

// SchemaManagerFactoryFunc adapts a function to SchemaManagerFactory.
type SchemaManagerFactoryFunc func(conn *Connection) (SchemaManager, error)

func (f SchemaManagerFactoryFunc) CreateSchemaManager(conn *Connection) (SchemaManager, error) {
	return f(conn)
}

// DefaultSchemaManagerFactory builds managers that read information_schema
// (or sqlite_master) through the primary handle.
type DefaultSchemaManagerFactory struct{}

func (DefaultSchemaManagerFactory) CreateSchemaManager(conn *Connection) (SchemaManager, error) {
	if conn == nil || conn.DB() == nil {
		return nil, fmt.Errorf("schema manager requires an open connection")
	}
	return &introspectingSchemaManager{
		db:     conn.DB(),
		filter: conn.Configuration().SchemaAssetsFilter(),
	}, nil
}

type introspectingSchemaManager struct {
	db     bun.IDB
	filter AssetFilter
}

func (m *introspectingSchemaManager) ListTableNames(ctx context.Context) ([]string, error) {
	var query string
	switch m.db.Dialect().Name() {
	case dialect.PG:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`
	case dialect.MySQL:
		query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'`
	case dialect.SQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	default:
		return nil, fmt.Errorf("schema introspection is not supported for dialect %s", m.db.Dialect().Name())
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if m.filter(name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (m *introspectingSchemaManager) ListColumns(ctx context.Context, table string) ([]Column, error) {
	if !m.filter(table) {
		return nil, fmt.Errorf("table %q is excluded by the schema assets filter", table)
	}
	switch m.db.Dialect().Name() {
	case dialect.PG:
		return m.scanColumns(ctx, `SELECT column_name, data_type, is_nullable, column_default, '' FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position`, table)
	case dialect.MySQL:
		return m.scanColumns(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, table)
	case dialect.SQLite:
		return m.sqliteColumns(ctx, table)
	default:
		return nil, fmt.Errorf("schema introspection is not supported for dialect %s", m.db.Dialect().Name())
	}
}

func (m *introspectingSchemaManager) scanColumns(ctx context.Context, query, table string) ([]Column, error) {
	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, typ, nullable, extra string
		var def sql.NullString
		if err := rows.Scan(&name, &typ, &nullable, &def, &extra); err != nil {
			return nil, err
		}
		col := Column{Name: name, Type: typ, NotNull: strings.EqualFold(nullable, "NO")}
		if def.Valid {
			col.Default = def.String
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") || strings.HasPrefix(col.Default, "nextval(") {
			col.AutoIncrement = true
			col.NotNull = true
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (m *introspectingSchemaManager) sqliteColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := m.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			return nil, err
		}
		col := Column{Name: name, Type: typ, NotNull: notNull == 1 || pk > 0}
		if def.Valid {
			col.Default = def.String
		}
		col.AutoIncrement = pk > 0 && strings.EqualFold(typ, "INTEGER")
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	return cols, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
