// Package providers holds one handler per contribution source. A handler
// knows its table, how to pull indexed columns out of a raw payload and
// which columns identify the same underlying account for duplicate checks.
package providers

import (
	"fmt"
	"sort"
	"strings"

	"data-marketplace/apperr"
	"data-marketplace/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type Provider interface {
	Type() models.ProviderType
	TableName() string
	// NewRow returns an empty row pointer suitable for gorm scans.
	NewRow() models.ContributionRow
	// Build copies env into a new row and fills the indexed columns from payload.
	Build(env models.ContributionEnvelope, payload Record) models.ContributionRow
	// IndexedColumns lists the provider-specific columns that can be filtered on.
	IndexedColumns() []string
	FingerprintColumns() []string
	// Completeness is the metric compared when a fingerprint already exists.
	Completeness(row models.ContributionRow) float64
	// ReactivatesOptedOut reports whether a submission may reclaim an
	// opted-out row of the same user with the same fingerprint.
	ReactivatesOptedOut() bool
	// Find runs q against the provider's table.
	Find(q *gorm.DB) ([]models.ContributionRow, error)
}

// Fingerprint returns the fingerprint column values of row.
func Fingerprint(p Provider, row models.ContributionRow) map[string]interface{} {
	fields := row.IndexedFields()
	out := make(map[string]interface{}, len(p.FingerprintColumns()))
	for _, col := range p.FingerprintColumns() {
		out[col] = fields[col]
	}
	return out
}

// FingerprintKey renders the fingerprint of row as a single string scoped to
// the provider's table, e.g. "amazon_contributions|order_count=5|total_spend=100".
func FingerprintKey(p Provider, row models.ContributionRow) string {
	fields := row.IndexedFields()
	var b strings.Builder
	b.WriteString(p.TableName())
	for _, col := range p.FingerprintColumns() {
		fmt.Fprintf(&b, "|%s=%v", col, fields[col])
	}
	return b.String()
}

type rowPtr[T any] interface {
	*T
	models.ContributionRow
}

// table implements Provider for one row type. Only the extraction and the
// column metadata differ between providers.
type table[T any, P rowPtr[T]] struct {
	typ          models.ProviderType
	columns      []string
	fingerprint  []string
	completeness string
	reactivates  bool
	extract      func(r Record, row P)
}

func (t *table[T, P]) Type() models.ProviderType { return t.typ }

func (t *table[T, P]) TableName() string { return P(new(T)).TableName() }

func (t *table[T, P]) NewRow() models.ContributionRow { return P(new(T)) }

func (t *table[T, P]) Build(env models.ContributionEnvelope, payload Record) models.ContributionRow {
	row := P(new(T))
	*row.Envelope() = env
	t.extract(payload, row)
	return row
}

func (t *table[T, P]) IndexedColumns() []string { return t.columns }

func (t *table[T, P]) FingerprintColumns() []string { return t.fingerprint }

func (t *table[T, P]) Completeness(row models.ContributionRow) float64 {
	return toFloat(row.IndexedFields()[t.completeness])
}

func (t *table[T, P]) ReactivatesOptedOut() bool { return t.reactivates }

func (t *table[T, P]) Find(q *gorm.DB) ([]models.ContributionRow, error) {
	var rows []T
	if err := q.Model(new(T)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ContributionRow, len(rows))
	for i := range rows {
		out[i] = P(&rows[i])
	}
	return out, nil
}

var registry = map[models.ProviderType]Provider{}

func register(p Provider) {
	registry[p.Type()] = p
}

// Get returns the handler for typ or an UnknownProvider error.
func Get(typ models.ProviderType) (Provider, error) {
	if p, ok := registry[typ]; ok {
		return p, nil
	}
	return nil, apperr.New(apperr.KindUnknownProvider, apperr.CodeUnknownProvider, "unknown provider type: "+string(typ))
}

// ParseType canonicalizes a caller-supplied provider tag ("Amazon ",
// "UBER", "netflix") before lookup.
func ParseType(raw string) (models.ProviderType, error) {
	typ := models.ProviderType(slug.Make(strings.TrimSpace(raw)))
	if _, err := Get(typ); err != nil {
		return "", err
	}
	return typ, nil
}

// All returns every registered handler in a stable order.
func All() []Provider {
	out := make([]Provider, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}
