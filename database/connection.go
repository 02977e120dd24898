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
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Connection is a named database connection: a primary handle plus one
// handle per configured replica. Handles are opened lazily by database/sql.
type Connection struct {
	name     string
	driver   Driver
	params   Params
	config   *Configuration
	primary  *bun.DB
	replicas map[string]*bun.DB

	mu     sync.RWMutex
	closed bool
}

// NewConnection opens the handles described by params. Deferred values in
// params must be resolved before calling it.
func NewConnection(name string, params Params, config *Configuration) (*Connection, error) {
	driver, ok := params.Driver()
	if !ok {
		return nil, &UnknownDriverError{Connection: name, Driver: params.String(KeyDriver)}
	}
	if config == nil {
		config = NewConfiguration()
	}

	conn := &Connection{
		name:     name,
		driver:   driver,
		params:   params,
		config:   config,
		replicas: make(map[string]*bun.DB),
	}

	primaryParams := overlay(params, params.Map("primary"))
	db, err := conn.open(primaryParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection %q: %w", name, err)
	}
	conn.primary = db

	replicas := params.Map("replica")
	for _, replica := range sortedKeys(replicas) {
		entry, _ := replicas[replica].(map[string]interface{})
		db, err := conn.open(overlay(params, entry))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to open replica %q of connection %q: %w", replica, name, err)
		}
		conn.replicas[replica] = db
	}
	return conn, nil
}

// overlay returns the base connection fields of params with entry applied on top.
func overlay(params Params, entry map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+len(entry))
	for k, v := range params {
		switch k {
		case "primary", "replica":
			continue
		}
		out[k] = v
	}
	for k, v := range entry {
		out[k] = v
	}
	return out
}

func (c *Connection) open(p Params) (*bun.DB, error) {
	if _, unresolved := p["password"].(Deferred); unresolved {
		return nil, fmt.Errorf("%w: password of connection %q", ErrUnresolvedReference, c.name)
	}

	var (
		sqlDB *sql.DB
		db    *bun.DB
		err   error
	)
	switch c.driver.Family() {
	case FamilySQLite:
		sqlDB, err = openSQLite(p)
		if err == nil {
			db = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	case FamilyMySQL:
		sqlDB, err = openMySQL(c.name, p, c.config.AutoCommit())
		if err == nil {
			db = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case FamilyPgSQL:
		sqlDB, err = openPostgres(p)
		if err == nil {
			db = bun.NewDB(sqlDB, pgdialect.New())
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrDriverUnavailable, c.driver.Name())
	}
	if err != nil {
		return nil, err
	}

	for _, m := range c.config.Middlewares() {
		db.AddQueryHook(m)
	}
	return db, nil
}

func openSQLite(p Params) (*sql.DB, error) {
	var dsn string
	switch {
	case p.Bool("memory"):
		dsn = ":memory:"
	case p.String("path") != "":
		dsn = p.String("path")
	default:
		return nil, errors.New("sqlite connections need either a path or memory: true")
	}
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		// every new pool connection would see a fresh empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}
	return sqlDB, nil
}

func mysqlConfig(name string, p Params, autoCommit bool) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User = p.String("user")
	cfg.Passwd = p.String("password")
	cfg.DBName = p.String("dbname")
	cfg.ParseTime = true

	if socket := p.String("unix_socket"); socket != "" {
		cfg.Net = "unix"
		cfg.Addr = socket
	} else {
		host := p.String("host")
		if host == "" {
			host = "localhost"
		}
		port := p.Int("port")
		if port == 0 {
			port = 3306
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	params := driverOptionParams(p)
	delete(params, "charset")
	if !autoCommit {
		params["autocommit"] = "0"
	}
	if len(params) > 0 {
		cfg.Params = params
	}

	// the driver only picks up charset while parsing a DSN
	if charset := p.String("charset"); charset != "" {
		dsn := cfg.FormatDSN()
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		parsed, err := mysql.ParseDSN(dsn + sep + "charset=" + url.QueryEscape(charset))
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		cfg = parsed
	}

	tlsConfig, err := mysqlTLS(p)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	cfg.TLS = tlsConfig
	return cfg, nil
}

func openMySQL(name string, p Params, autoCommit bool) (*sql.DB, error) {
	cfg, err := mysqlConfig(name, p, autoCommit)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// mysqlTLS builds the client TLS settings from the ssl_* options.
func mysqlTLS(p Params) (*tls.Config, error) {
	ca, capath, cert, key, cipher := p.String("ssl_ca"), p.String("ssl_capath"), p.String("ssl_cert"), p.String("ssl_key"), p.String("ssl_cipher")
	if ca == "" && capath == "" && cert == "" && key == "" && cipher == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{ServerName: p.String("host")}
	if ca != "" || capath != "" {
		pool := x509.NewCertPool()
		files := []string{}
		if ca != "" {
			files = append(files, ca)
		}
		if capath != "" {
			matches, err := filepath.Glob(filepath.Join(capath, "*.pem"))
			if err != nil {
				return nil, fmt.Errorf("failed to read ssl_capath: %w", err)
			}
			files = append(files, matches...)
		}
		for _, f := range files {
			pem, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificate found in %s", f)
			}
		}
		tlsConfig.RootCAs = pool
	}
	if cert != "" || key != "" {
		pair, err := tls.LoadX509KeyPair(cert, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}
	if cipher != "" {
		suites, err := cipherSuites(cipher)
		if err != nil {
			return nil, err
		}
		tlsConfig.CipherSuites = suites
	}
	return tlsConfig, nil
}

func cipherSuites(list string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	var ids []uint16
	for _, name := range strings.Split(list, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown ssl_cipher %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// postgresDSN renders lib/pq key/value connection settings.
func postgresDSN(p Params) string {
	dbname := p.String("dbname")
	if dbname == "" {
		dbname = p.String("default_dbname")
	}
	if dbname == "" {
		dbname = "postgres"
	}
	sslmode := p.String("sslmode")
	if sslmode == "" {
		sslmode = "disable"
	}

	settings := [][2]string{
		{"host", p.String("host")},
		{"user", p.String("user")},
		{"password", p.String("password")},
		{"dbname", dbname},
		{"sslmode", sslmode},
		{"sslrootcert", p.String("sslrootcert")},
		{"sslcert", p.String("sslcert")},
		{"sslkey", p.String("sslkey")},
		{"application_name", p.String("application_name")},
		{"client_encoding", p.String("charset")},
	}
	if port := p.Int("port"); port != 0 {
		settings = append(settings, [2]string{"port", strconv.Itoa(port)})
	}
	options := driverOptionParams(p)
	for _, k := range sortedKeys(options) {
		settings = append(settings, [2]string{k, options[k]})
	}

	parts := make([]string, 0, len(settings))
	for _, kv := range settings {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quotePQValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

func quotePQValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func openPostgres(p Params) (*sql.DB, error) {
	return sql.Open("postgres", postgresDSN(p))
}

// driverOptionParams returns the scalar driverOptions rendered as strings.
func driverOptionParams(p Params) map[string]string {
	out := make(map[string]string)
	for k, v := range p.Map("driverOptions") {
		if isScalar(v) {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) Driver() Driver { return c.driver }

// Params returns a copy of the normalized parameters; deferred values are
// left unresolved.
func (c *Connection) Params() Params { return c.params.Clone() }

func (c *Connection) Configuration() *Configuration { return c.config }

// DB returns the primary handle.
func (c *Connection) DB() *bun.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// Replica returns the handle of the named replica.
func (c *Connection) Replica(name string) (*bun.DB, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.replicas[name]
	return db, ok
}

// Replicas returns the replica names, sorted.
func (c *Connection) Replicas() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.replicas))
	for name := range c.replicas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaManager builds the schema manager configured for this connection.
func (c *Connection) SchemaManager() (SchemaManager, error) {
	return c.config.SchemaManagerFactory().CreateSchemaManager(c)
}

// Ping checks the primary handle and every replica.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("connection %q is closed", c.name)
	}
	if err := c.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary of %q: %w", c.name, err)
	}
	for _, name := range sortedKeys(c.replicas) {
		if err := c.replicas[name].PingContext(ctx); err != nil {
			return fmt.Errorf("replica %q of %q: %w", name, c.name, err)
		}
	}
	return nil
}

// HealthCheck pings the connection and reports pool figures of the primary.
func (c *Connection) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{Connection: c.name, LastCheckTime: start}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.Ping(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.primary != nil {
		stats := c.primary.DB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}
	return status
}

// Stats returns database/sql statistics of the primary handle.
func (c *Connection) Stats() *DBStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.primary == nil {
		return &DBStats{}
	}
	stats := c.primary.DB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Close closes every handle of the connection. It is safe to call twice.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.primary != nil {
		errs = append(errs, c.primary.Close())
	}
	for _, name := range sortedKeys(c.replicas) {
		errs = append(errs, c.replicas[name].Close())
	}
	return errors.Join(errs...)
}
