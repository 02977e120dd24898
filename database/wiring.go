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
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// WiringOptions holds the wiring-only keys of a connection configuration,
// validated separately from the driver parameters.
type WiringOptions struct {
	// Middlewares maps a local middleware name to the service providing it.
	Middlewares          map[string]Reference
	ResultCache          *Deferred
	SchemaAssetsFilter   *Deferred
	SchemaManagerFactory *Deferred
	AutoCommit           bool
	URL                  string
}

// Literal values accepted for deferred wiring keys.
const (
	ResultCacheMemory           = "memory"
	SchemaManagerFactoryDefault = "default"
)

// ValidateWiring reads the wiring-only keys of a raw connection config.
func ValidateWiring(connectionName string, raw RawConnectionConfig) (*WiringOptions, error) {
	path := connectionPath(connectionName)
	opts := &WiringOptions{AutoCommit: true}
	var errs []error

	if v := raw[KeyMiddlewares]; v != nil {
		m, err := toStringMap(path+"."+KeyMiddlewares, v)
		if err != nil {
			errs = append(errs, err)
		} else {
			opts.Middlewares = make(map[string]Reference, len(m))
			for _, name := range sortedKeys(m) {
				ref, err := middlewareReference(path+"."+KeyMiddlewares+"."+name, m[name])
				if err != nil {
					errs = append(errs, err)
					continue
				}
				opts.Middlewares[name] = ref
			}
		}
	}

	if v := raw[KeyResultCache]; v != nil {
		d, err := wiringDeferred(path+"."+KeyResultCache, v, func(lit string) error {
			if lit != ResultCacheMemory {
				return fmt.Errorf("unsupported result cache %q, use a reference or %q", lit, ResultCacheMemory)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			opts.ResultCache = d
		}
	}

	if v := raw[KeySchemaAssetsFilter]; v != nil {
		d, err := wiringDeferred(path+"."+KeySchemaAssetsFilter, v, func(lit string) error {
			_, err := regexp.Compile(lit)
			return err
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			opts.SchemaAssetsFilter = d
		}
	}

	if v := raw[KeySchemaManagerFactory]; v != nil {
		d, err := wiringDeferred(path+"."+KeySchemaManagerFactory, v, func(lit string) error {
			if lit != SchemaManagerFactoryDefault {
				return fmt.Errorf("unsupported schema manager factory %q, use a reference or %q", lit, SchemaManagerFactoryDefault)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			opts.SchemaManagerFactory = d
		}
	}

	if v := raw[KeyAutoCommit]; v != nil {
		b, err := coerceScalar(path+"."+KeyAutoCommit, KindBool, v)
		if err != nil {
			errs = append(errs, err)
		} else {
			opts.AutoCommit = b.(bool)
		}
	}

	if v := raw[KeyURL]; v != nil {
		s, ok := v.(string)
		if !ok {
			errs = append(errs, violation(path+"."+KeyURL, "expected a string, got %s", describe(v)))
		} else {
			opts.URL = strings.TrimSpace(s)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return opts, nil
}

func middlewareReference(path string, v interface{}) (Reference, error) {
	switch t := v.(type) {
	case Reference:
		if t != "" {
			return t, nil
		}
	case string:
		name := strings.TrimPrefix(strings.TrimSpace(t), referencePrefix)
		if name != "" {
			return Reference(name), nil
		}
	}
	return "", violation(path, "expected a middleware service reference, got %s", describe(v))
}

func wiringDeferred(path string, v interface{}, checkLiteral func(string) error) (*Deferred, error) {
	d, err := ParseDeferred(v)
	if err != nil {
		return nil, violation(path, "%s", err.Error())
	}
	if d.IsReference() {
		return &d, nil
	}
	lit, ok := d.Literal().(string)
	if !ok {
		return nil, violation(path, "expected a string or a service reference, got %s", describe(d.Literal()))
	}
	if err := checkLiteral(lit); err != nil {
		return nil, violation(path, "%s", err.Error())
	}
	return &d, nil
}

var urlSchemeFamilies = map[string]Family{
	"sqlite":     FamilySQLite,
	"sqlite3":    FamilySQLite,
	"mysql":      FamilyMySQL,
	"mysql2":     FamilyMySQL,
	"mariadb":    FamilyMySQL,
	"postgres":   FamilyPgSQL,
	"postgresql": FamilyPgSQL,
	"pgsql":      FamilyPgSQL,
	"oci":        FamilyOracle,
	"oci8":       FamilyOracle,
	"mssql":      FamilySQLSrv,
	"sqlsrv":     FamilySQLSrv,
	"db2":        FamilyDB2,
	"ibm_db2":    FamilyDB2,
}

// ParseURL turns a connection URL into connection parameters. The URL
// scheme must belong to the same family as driver. Driver schemes written
// with underscores (pdo_mysql://) are accepted using dashes as well.
// The query may only carry driver options; base fields and wiring keys
// are rejected.
func ParseURL(driver Driver, rawURL string) (map[string]interface{}, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}
	scheme := strings.ReplaceAll(strings.ToLower(u.Scheme), "-", "_")
	family, ok := urlSchemeFamilies[scheme]
	if !ok {
		if d, known := ParseDriver(scheme); known {
			family, ok = d.Family(), true
		}
	}
	if !ok {
		return nil, fmt.Errorf("unknown url scheme %q", u.Scheme)
	}
	if family != driver.Family() {
		return nil, fmt.Errorf("url scheme %q does not match driver %q", u.Scheme, driver.Name())
	}

	params := make(map[string]interface{})
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			params["user"] = name
		}
		if pass, set := u.User.Password(); set {
			// url passwords are always literal, even with a leading "@"
			if strings.HasPrefix(pass, referencePrefix) {
				params["password"] = LiteralValue(pass)
			} else {
				params["password"] = pass
			}
		}
	}

	if family == FamilySQLite {
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		switch path {
		case "", "/":
		case "/:memory:", ":memory:":
			params["memory"] = true
		default:
			params["path"] = path
		}
	} else {
		if host := u.Hostname(); host != "" {
			params["host"] = host
		}
		if port := u.Port(); port != "" {
			params["port"] = port
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			params["dbname"] = db
		}
	}

	query := u.Query()
	for _, key := range sortedKeys(query) {
		if isBaseField(key) || isOrchestrationKey(key) {
			return nil, fmt.Errorf("option %q cannot be set from the url", key)
		}
		if values := query[key]; len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	return params, nil
}

// mergeURL overlays the parameters encoded in rawURL on params and
// re-validates the result.
func mergeURL(connectionName string, params Params, rawURL string) (Params, error) {
	driver, _ := params.Driver()
	fromURL, err := ParseURL(driver, rawURL)
	if err != nil {
		return nil, violation(connectionPath(connectionName)+"."+KeyURL, "%s", err.Error())
	}
	merged := RawConnectionConfig(params.Clone())
	for k, v := range fromURL {
		merged[k] = v
	}
	out, err := Validate(connectionName, merged)
	if err == nil && out.String(KeyDriver) != params.String(KeyDriver) {
		err = violation(connectionPath(connectionName)+"."+KeyDriver, "the driver cannot be changed by the url")
	}
	if err != nil {
		var violations []error
		for _, v := range Violations(err) {
			violations = append(violations, violation(connectionPath(connectionName)+"."+KeyURL, "%s: %s", v.Path, v.Reason))
		}
		if len(violations) == 0 {
			return nil, err
		}
		return nil, errors.Join(violations...)
	}
	return out, nil
}

// Normalize validates the driver parameters and the wiring keys of one
// connection and merges its url. The returned params are what the
// connection is built from.
func Normalize(connectionName string, raw RawConnectionConfig) (Params, *WiringOptions, error) {
	params, err := Validate(connectionName, raw)
	if err != nil {
		return nil, nil, err
	}
	wiring, err := ValidateWiring(connectionName, raw)
	if err != nil {
		return nil, nil, err
	}
	if wiring.URL != "" {
		if params, err = mergeURL(connectionName, params, wiring.URL); err != nil {
			return nil, nil, err
		}
	}
	return params, wiring, nil
}
