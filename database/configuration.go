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
	"fmt"
	"regexp"
)

// AssetFilter decides whether a schema asset (table, sequence) is managed.
type AssetFilter func(assetName string) bool

// RegexpAssetFilter keeps the assets whose name matches pattern.
func RegexpAssetFilter(pattern string) (AssetFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid schema assets filter %q: %w", pattern, err)
	}
	return re.MatchString, nil
}

// Configuration carries the per-connection settings that sit next to the
// driver parameters.
type Configuration struct {
	assetFilter          AssetFilter
	schemaManagerFactory SchemaManagerFactory
	autoCommit           bool
	resultCache          ResultCache
	middlewares          []Middleware
}

// NewConfiguration returns a configuration with auto-commit enabled.
func NewConfiguration() *Configuration {
	return &Configuration{autoCommit: true}
}

func (c *Configuration) SetSchemaAssetsFilter(filter AssetFilter) *Configuration {
	c.assetFilter = filter
	return c
}

// SchemaAssetsFilter returns the configured filter; without one every
// asset is accepted.
func (c *Configuration) SchemaAssetsFilter() AssetFilter {
	if c.assetFilter == nil {
		return func(string) bool { return true }
	}
	return c.assetFilter
}

func (c *Configuration) SetSchemaManagerFactory(factory SchemaManagerFactory) *Configuration {
	c.schemaManagerFactory = factory
	return c
}

func (c *Configuration) SchemaManagerFactory() SchemaManagerFactory {
	if c.schemaManagerFactory == nil {
		return DefaultSchemaManagerFactory{}
	}
	return c.schemaManagerFactory
}

func (c *Configuration) SetAutoCommit(autoCommit bool) *Configuration {
	c.autoCommit = autoCommit
	return c
}

func (c *Configuration) AutoCommit() bool { return c.autoCommit }

func (c *Configuration) SetResultCache(cache ResultCache) *Configuration {
	c.resultCache = cache
	return c
}

// ResultCache returns the configured cache or nil.
func (c *Configuration) ResultCache() ResultCache { return c.resultCache }

func (c *Configuration) SetMiddlewares(middlewares ...Middleware) *Configuration {
	c.middlewares = append([]Middleware(nil), middlewares...)
	return c
}

func (c *Configuration) Middlewares() []Middleware {
	return append([]Middleware(nil), c.middlewares...)
}
