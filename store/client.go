// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/microsoft/dusseldorf/cache"
	"github.com/microsoft/dusseldorf/store/migrations"
	migrate "github.com/rubenv/sql-migrate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	domainTTL    = 30 * time.Second
	zoneTTL      = 30 * time.Second
	predicateTTL = time.Second
	connCheckTTL = 30 * time.Second

	// maxRulesPerZone caps a single zone's rule fetch.
	maxRulesPerZone = 1000
)

// Client is the gorm-backed Store implementation. One Client is shared
// process-wide; its caches are safe for concurrent readers.
type Client struct {
	mu      sync.Mutex // guards db replacement during reconnect
	db      *gorm.DB
	dsn     string
	pg      bool
	log     *slog.Logger
	domains *cache.TTLCache
	zones   *cache.TTLCache
	preds   *cache.TTLCache
	results *cache.TTLCache
	conn    *cache.TTLCache
}

// Connect opens the backing store, runs schema migrations and verifies
// connectivity. A failure here aborts the process at startup.
func Connect(connstr string, l *slog.Logger) (*Client, error) {
	if l == nil {
		l = slog.Default()
	}

	c := &Client{
		dsn:     connstr,
		pg:      isPostgres(connstr),
		log:     l.WithGroup("store"),
		domains: cache.New(domainTTL),
		zones:   cache.New(zoneTTL),
		preds:   cache.New(predicateTTL),
		results: cache.New(predicateTTL),
		conn:    cache.New(connCheckTTL),
	}

	if err := c.open(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := c.migrations(); err != nil {
		return nil, err
	}
	if err := c.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return c, nil
}

// isPostgres decides the driver from the connection string: postgres DSNs
// and URLs go to the postgres driver, everything else is a sqlite path.
func isPostgres(connstr string) bool {
	if strings.HasPrefix(connstr, "postgres://") || strings.HasPrefix(connstr, "postgresql://") {
		return true
	}
	return strings.Contains(connstr, "host=")
}

func (c *Client) open() error {
	var dialector gorm.Dialector
	if c.pg {
		dialector = postgres.Open(c.dsn)
	} else {
		dialector = sqlite.Open(c.dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	return nil
}

func (c *Client) migrations() error {
	name := "sqlite3"
	src := migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations.SQLite(),
		Root:       "sqlite3",
	}
	if c.pg {
		name = "postgres"
		src = migrate.EmbedFileSystemMigrationSource{
			FileSystem: migrations.Postgres(),
			Root:       "postgres",
		}
	}

	sqlDB, err := c.handle().DB()
	if err != nil {
		return fmt.Errorf("failed to extract raw SQL DB from GORM: %w", err)
	}
	if _, err := migrate.Exec(sqlDB, name, src, migrate.Up); err != nil {
		return multierror.Append(fmt.Errorf("failed to execute migrations"), err)
	}
	return nil
}

func (c *Client) handle() *gorm.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Ping verifies the underlying connection.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.handle().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.handle().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// guarantee checks connectivity at most once per TTL window. When the
// ping fails it attempts a single reconnect before giving up.
func (c *Client) guarantee(ctx context.Context) error {
	if _, ok := c.conn.Get("ok"); ok {
		return nil
	}

	if err := c.Ping(ctx); err != nil {
		c.log.Warn("store connection down, attempting to reconnect", "err", err)
		if rerr := c.open(); rerr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, rerr)
		}
		if perr := c.Ping(ctx); perr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, perr)
		}
	}

	c.conn.Set("ok", struct{}{})
	return nil
}

// Domains returns every registered parent domain, cached.
func (c *Client) Domains(ctx context.Context) ([]Domain, error) {
	if v, ok := c.domains.Get("all"); ok {
		return v.([]Domain), nil
	}
	if err := c.guarantee(ctx); err != nil {
		return nil, err
	}

	var domains []Domain
	if err := c.handle().WithContext(ctx).Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c.domains.Set("all", domains)
	return domains, nil
}

// DomainNames returns the registered domain suffixes, lowercased.
func (c *Client) DomainNames(ctx context.Context) ([]string, error) {
	domains, err := c.Domains(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, strings.ToLower(d.Domain))
	}
	return names, nil
}

// PublicIPs returns the IPv4 pool for the domain; an empty domain selects
// the first registered one.
func (c *Client) PublicIPs(ctx context.Context, domain string) ([]string, error) {
	domains, err := c.Domains(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range domains {
		if domain == "" || strings.EqualFold(d.Domain, domain) {
			return d.PublicIPs, nil
		}
	}
	return nil, nil
}

// ZoneForFQDN resolves a request FQDN to its zone: exact match first,
// then the longest zone suffix.
func (c *Client) ZoneForFQDN(ctx context.Context, reqFqdn string) (string, error) {
	reqFqdn = strings.ToLower(reqFqdn)
	key := "zone:" + reqFqdn
	if v, ok := c.zones.Get(key); ok {
		return v.(string), nil
	}
	if err := c.guarantee(ctx); err != nil {
		return "", err
	}

	db := c.handle().WithContext(ctx)

	var zone Zone
	err := db.Where("fqdn = ?", reqFqdn).First(&zone).Error
	if err == nil {
		c.zones.Set(key, zone.FQDN)
		return zone.FQDN, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var fqdns []string
	if err := db.Model(&Zone{}).Pluck("fqdn", &fqdns).Error; err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// longest suffix wins
	sort.Slice(fqdns, func(i, j int) bool { return len(fqdns[i]) > len(fqdns[j]) })
	for _, z := range fqdns {
		if strings.HasSuffix(reqFqdn, "."+strings.ToLower(z)) {
			c.zones.Set(key, z)
			return z, nil
		}
	}

	c.zones.Set(key, "")
	return "", nil
}

// DomainForZone returns the parent domain of a zone FQDN.
func (c *Client) DomainForZone(ctx context.Context, zoneFqdn string) (string, error) {
	zoneFqdn = strings.ToLower(zoneFqdn)
	key := "domain:" + zoneFqdn
	if v, ok := c.zones.Get(key); ok {
		return v.(string), nil
	}
	if err := c.guarantee(ctx); err != nil {
		return "", err
	}

	var zone Zone
	err := c.handle().WithContext(ctx).Where("fqdn = ?", zoneFqdn).First(&zone).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c.zones.Set(key, zone.Domain)
	return zone.Domain, nil
}

// PredicatesFor returns the predicate sets of all rules bound to the zone
// and protocol, ordered by ascending priority with ruleid as the stable
// fallback for the duplicate priorities the management API is required to
// prevent.
func (c *Client) PredicatesFor(ctx context.Context, zoneFqdn, protocol string) ([]RulePredicates, error) {
	key := zoneFqdn + "|" + protocol
	if v, ok := c.preds.Get(key); ok {
		return v.([]RulePredicates), nil
	}
	if err := c.guarantee(ctx); err != nil {
		return nil, err
	}

	var rules []Rule
	err := c.handle().WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq asc")
		}).
		Where("zone = ? AND networkprotocol = ?", zoneFqdn, protocol).
		Order("priority asc").
		Order("ruleid asc").
		Limit(maxRulesPerZone).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sets := make([]RulePredicates, 0, len(rules))
	for _, rule := range rules {
		rp := RulePredicates{RuleID: rule.RuleID}
		for _, comp := range rule.Components {
			if comp.IsPredicate {
				rp.Predicates = append(rp.Predicates, Predicate{
					Name:  comp.ActionName,
					Value: comp.ActionValue,
				})
			}
		}
		sets = append(sets, rp)
	}

	c.preds.Set(key, sets)
	return sets, nil
}

// ResultsFor returns the result components of a rule in stored order.
func (c *Client) ResultsFor(ctx context.Context, ruleID string) ([]ResultAction, error) {
	if v, ok := c.results.Get(ruleID); ok {
		return v.([]ResultAction), nil
	}
	if err := c.guarantee(ctx); err != nil {
		return nil, err
	}

	var comps []RuleComponent
	err := c.handle().WithContext(ctx).
		Where("ruleid = ? AND ispredicate = ?", ruleID, false).
		Order("seq asc").
		Find(&comps).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	actions := make([]ResultAction, 0, len(comps))
	for _, comp := range comps {
		actions = append(actions, ResultAction{
			ComponentID: comp.ComponentID,
			Name:        comp.ActionName,
			Value:       comp.ActionValue,
		})
	}

	c.results.Set(ruleID, actions)
	return actions, nil
}

// RecordInteraction stamps the record with the current Unix second and
// appends it.
func (c *Client) RecordInteraction(ctx context.Context, rec *Interaction) (int64, error) {
	if err := c.guarantee(ctx); err != nil {
		return 0, err
	}

	rec.Time = time.Now().Unix()
	if err := c.handle().WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec.Time, nil
}
