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
	"sort"

	"github.com/tomoncle/dbwire/types"
)

// Driver identifies the database engine family a connection targets.
type Driver int

const (
	DriverPdoSqlite Driver = iota
	DriverSqlite3
	DriverPdoMySQL
	DriverMySQLi
	DriverPdoPgSQL
	DriverPdoOCI
	DriverOCI8
	DriverPdoSQLSrv
	DriverSQLSrv
	DriverIBMDB2
)

var driverNames = [...]string{
	DriverPdoSqlite: "pdo_sqlite",
	DriverSqlite3:   "sqlite3",
	DriverPdoMySQL:  "pdo_mysql",
	DriverMySQLi:    "mysqli",
	DriverPdoPgSQL:  "pdo_pgsql",
	DriverPdoOCI:    "pdo_oci",
	DriverOCI8:      "oci8",
	DriverPdoSQLSrv: "pdo_sqlsrv",
	DriverSQLSrv:    "sqlsrv",
	DriverIBMDB2:    "ibm_db2",
}

var driverDescs = [...]string{
	DriverPdoSqlite: "SQLite (PDO)",
	DriverSqlite3:   "SQLite (native)",
	DriverPdoMySQL:  "MySQL (PDO)",
	DriverMySQLi:    "MySQL (mysqli)",
	DriverPdoPgSQL:  "PostgreSQL (PDO)",
	DriverPdoOCI:    "Oracle (PDO)",
	DriverOCI8:      "Oracle (OCI8)",
	DriverPdoSQLSrv: "SQL Server (PDO)",
	DriverSQLSrv:    "SQL Server (native)",
	DriverIBMDB2:    "IBM DB2",
}

var _ types.BaseEnum = Driver(0)

// Drivers returns every registered driver in declaration order.
func Drivers() []Driver {
	out := make([]Driver, 0, len(driverNames))
	for d := range driverNames {
		out = append(out, Driver(d))
	}
	return out
}

// ParseDriver maps a configuration driver name to its Driver.
func ParseDriver(name string) (Driver, bool) {
	return types.LookupByName(Drivers(), name)
}

func (d Driver) IsValid() bool { return d >= 0 && int(d) < len(driverNames) }

func (d Driver) Number() int {
	if !d.IsValid() {
		return types.IllegalValue
	}
	return int(d)
}

func (d Driver) Name() string {
	if !d.IsValid() {
		return types.IllegalName
	}
	return driverNames[d]
}

func (d Driver) String() string { return d.Name() }

func (d Driver) Desc() string {
	if !d.IsValid() {
		return types.IllegalDesc
	}
	return driverDescs[d]
}

// Family groups drivers that talk to the same database engine.
type Family string

const (
	FamilySQLite Family = "sqlite"
	FamilyMySQL  Family = "mysql"
	FamilyPgSQL  Family = "pgsql"
	FamilyOracle Family = "oci"
	FamilySQLSrv Family = "sqlsrv"
	FamilyDB2    Family = "db2"
)

// Family returns the engine family of the driver.
func (d Driver) Family() Family {
	switch d {
	case DriverPdoSqlite, DriverSqlite3:
		return FamilySQLite
	case DriverPdoMySQL, DriverMySQLi:
		return FamilyMySQL
	case DriverPdoPgSQL:
		return FamilyPgSQL
	case DriverPdoOCI, DriverOCI8:
		return FamilyOracle
	case DriverPdoSQLSrv, DriverSQLSrv:
		return FamilySQLSrv
	case DriverIBMDB2:
		return FamilyDB2
	default:
		return ""
	}
}

// FieldKind is the expected shape of a configuration value.
type FieldKind int

const (
	KindString FieldKind = iota
	KindBool
	KindInt
	KindPort
	KindScalarMap
	KindMap
	KindPrimary
	KindReplica
)

var fieldKindNames = [...]string{
	KindString:    "string",
	KindBool:      "bool",
	KindInt:       "int",
	KindPort:      "port",
	KindScalarMap: "scalar_map",
	KindMap:       "map",
	KindPrimary:   "primary",
	KindReplica:   "replica",
}

var fieldKindDescs = [...]string{
	KindString:    "a string",
	KindBool:      "a boolean",
	KindInt:       "an integer",
	KindPort:      "a port number between 1 and 65535",
	KindScalarMap: "a map of scalar values",
	KindMap:       "a map",
	KindPrimary:   "a map of scalar connection parameters",
	KindReplica:   "a set of replicas keyed by name",
}

var _ types.BaseEnum = FieldKind(0)

func (k FieldKind) IsValid() bool { return k >= 0 && int(k) < len(fieldKindNames) }

func (k FieldKind) Number() int {
	if !k.IsValid() {
		return types.IllegalValue
	}
	return int(k)
}

func (k FieldKind) Name() string {
	if !k.IsValid() {
		return types.IllegalName
	}
	return fieldKindNames[k]
}

func (k FieldKind) String() string { return k.Name() }

func (k FieldKind) Desc() string {
	if !k.IsValid() {
		return types.IllegalDesc
	}
	return fieldKindDescs[k]
}

// Scalar reports whether values of this kind are single scalar values.
func (k FieldKind) Scalar() bool {
	switch k {
	case KindString, KindBool, KindInt, KindPort:
		return true
	default:
		return false
	}
}

// Field describes one accepted configuration key.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	// Deferred fields may hold a Reference instead of a literal.
	Deferred bool
}

// DriverSchema is the immutable set of fields accepted for one driver.
type DriverSchema struct {
	driver Driver
	fields map[string]Field
	order  []string
}

func newDriverSchema(driver Driver, groups ...[]Field) *DriverSchema {
	s := &DriverSchema{driver: driver, fields: make(map[string]Field)}
	for _, group := range groups {
		for _, f := range group {
			if _, dup := s.fields[f.Name]; dup {
				panic("database: duplicate field " + f.Name + " in schema " + driver.Name())
			}
			s.fields[f.Name] = f
			s.order = append(s.order, f.Name)
		}
	}
	return s
}

// Driver returns the driver the schema describes.
func (s *DriverSchema) Driver() Driver { return s.driver }

// Field returns the declared field with the given name.
func (s *DriverSchema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (s *DriverSchema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Required returns the names of required fields, sorted.
func (s *DriverSchema) Required() []string {
	var out []string
	for name, f := range s.fields {
		if f.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ConnectionFields returns the scalar, driver-specific fields that may
// appear inside primary and replica entries.
func (s *DriverSchema) ConnectionFields() []Field {
	var out []Field
	for _, f := range s.Fields() {
		if f.Kind.Scalar() && !isBaseField(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

var (
	credentialFields = []Field{
		{Name: "user", Kind: KindString},
		{Name: "password", Kind: KindString, Deferred: true},
	}
	networkFields = []Field{
		{Name: "host", Kind: KindString},
		{Name: "port", Kind: KindPort},
		{Name: "dbname", Kind: KindString},
	}
	sqliteFields = []Field{
		{Name: "path", Kind: KindString},
		{Name: "memory", Kind: KindBool},
	}
	mysqlFields = []Field{
		{Name: "unix_socket", Kind: KindString},
		{Name: "charset", Kind: KindString},
	}
	mysqliSSLFields = []Field{
		{Name: "ssl_key", Kind: KindString},
		{Name: "ssl_cert", Kind: KindString},
		{Name: "ssl_ca", Kind: KindString},
		{Name: "ssl_capath", Kind: KindString},
		{Name: "ssl_cipher", Kind: KindString},
	}
	pgsqlFields = []Field{
		{Name: "charset", Kind: KindString},
		{Name: "default_dbname", Kind: KindString},
		{Name: "sslmode", Kind: KindString},
		{Name: "sslrootcert", Kind: KindString},
		{Name: "sslcert", Kind: KindString},
		{Name: "sslkey", Kind: KindString},
		{Name: "sslcrl", Kind: KindString},
		{Name: "application_name", Kind: KindString},
		{Name: "gssencmode", Kind: KindString},
	}
	ociFields = []Field{
		{Name: "servicename", Kind: KindString},
		{Name: "service", Kind: KindBool},
		{Name: "pooled", Kind: KindBool},
		{Name: "charset", Kind: KindString},
		{Name: "instancename", Kind: KindString},
		{Name: "connectstring", Kind: KindString},
	}
	oci8Fields = []Field{
		{Name: "persistent", Kind: KindBool},
		{Name: "exclusive", Kind: KindBool},
	}
	db2Fields = []Field{
		{Name: "persistent", Kind: KindBool},
	}

	// baseFields trail every driver schema.
	baseFields = []Field{
		{Name: "driver", Kind: KindString, Required: true},
		{Name: "serverVersion", Kind: KindString},
		{Name: "wrapperClass", Kind: KindString},
		{Name: "defaultTableOptions", Kind: KindScalarMap},
		{Name: "driverOptions", Kind: KindMap},
		{Name: "primary", Kind: KindPrimary},
		{Name: "replica", Kind: KindReplica},
	}
)

func isBaseField(name string) bool {
	for _, f := range baseFields {
		if f.Name == name {
			return true
		}
	}
	return false
}

var schemaRegistry = map[Driver]*DriverSchema{
	DriverPdoSqlite: newDriverSchema(DriverPdoSqlite, credentialFields, sqliteFields, baseFields),
	DriverSqlite3:   newDriverSchema(DriverSqlite3, sqliteFields, baseFields),
	DriverPdoMySQL:  newDriverSchema(DriverPdoMySQL, credentialFields, networkFields, mysqlFields, baseFields),
	DriverMySQLi:    newDriverSchema(DriverMySQLi, credentialFields, networkFields, mysqlFields, mysqliSSLFields, baseFields),
	DriverPdoPgSQL:  newDriverSchema(DriverPdoPgSQL, credentialFields, networkFields, pgsqlFields, baseFields),
	DriverPdoOCI:    newDriverSchema(DriverPdoOCI, credentialFields, networkFields, ociFields, baseFields),
	DriverOCI8:      newDriverSchema(DriverOCI8, credentialFields, networkFields, ociFields, oci8Fields, baseFields),
	DriverPdoSQLSrv: newDriverSchema(DriverPdoSQLSrv, credentialFields, networkFields, baseFields),
	DriverSQLSrv:    newDriverSchema(DriverSQLSrv, credentialFields, networkFields, baseFields),
	DriverIBMDB2:    newDriverSchema(DriverIBMDB2, credentialFields, networkFields, db2Fields, baseFields),
}

// SchemaFor returns the schema registered for the driver name.
func SchemaFor(driverName string) (*DriverSchema, error) {
	d, ok := ParseDriver(driverName)
	if !ok {
		return nil, &UnknownDriverError{Driver: driverName}
	}
	return schemaRegistry[d], nil
}
