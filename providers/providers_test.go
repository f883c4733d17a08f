package providers

import (
	"encoding/json"
	"testing"

	"data-marketplace/apperr"
	"data-marketplace/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Amazon ")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAmazon, typ)

	typ, err = ParseType("TWITTER")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderTwitter, typ)

	_, err = ParseType("myspace")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknownProvider, apperr.KindOf(err))
}

func TestAllIsStable(t *testing.T) {
	all := All()
	require.Len(t, all, 4)
	assert.Equal(t, models.ProviderAmazon, all[0].Type())
	assert.Equal(t, models.ProviderUber, all[3].Type())
}

func TestAmazonBuild(t *testing.T) {
	p, err := Get(models.ProviderAmazon)
	require.NoError(t, err)

	payload := decode(t, `{
		"summary": {"order_count": 5, "total_spend": "$1,100.50", "top_categories": ["Books", 3, " Garden "]},
		"account": {"prime_member": true, "created_at": "2019-04-01"}
	}`)
	row := p.Build(models.ContributionEnvelope{ID: "c1", UserID: "u1"}, payload)
	amazon := row.(*models.AmazonContribution)

	assert.Equal(t, "c1", amazon.ID)
	assert.Equal(t, int64(5), amazon.OrderCount)
	assert.InDelta(t, 1100.50, amazon.TotalSpend, 0.001)
	assert.True(t, amazon.PrimeMember)
	assert.JSONEq(t, `["Books","Garden"]`, string(amazon.TopCategories))
	require.NotNil(t, amazon.AccountSince)
	assert.Equal(t, 2019, amazon.AccountSince.Year())

	assert.Equal(t, map[string]interface{}{"order_count": int64(5), "total_spend": 1100.50}, Fingerprint(p, row))
	assert.Equal(t, 5.0, p.Completeness(row))
	assert.True(t, p.ReactivatesOptedOut())
}

func TestAmazonCountsOrdersWhenNoSummary(t *testing.T) {
	p, _ := Get(models.ProviderAmazon)
	row := p.Build(models.ContributionEnvelope{}, decode(t, `{"orders": [{}, {}, {}], "total_spend": 30}`))
	assert.Equal(t, int64(3), row.(*models.AmazonContribution).OrderCount)
}

func TestMissingFieldsAreZero(t *testing.T) {
	for _, p := range All() {
		row := p.Build(models.ContributionEnvelope{}, Record{"unrelated": nil})
		assert.Zero(t, p.Completeness(row), p.Type())
	}
}

func TestTwitterFoldsUsername(t *testing.T) {
	p, _ := Get(models.ProviderTwitter)
	a := p.Build(models.ContributionEnvelope{}, decode(t, `{"profile": {"screen_name": "@GoLang", "statuses_count": 10}}`))
	b := p.Build(models.ContributionEnvelope{}, decode(t, `{"username": "ｇｏｌａｎｇ"}`))

	assert.Equal(t, "golang", a.(*models.TwitterContribution).Username)
	assert.Equal(t, Fingerprint(p, a), Fingerprint(p, b))
	assert.False(t, p.ReactivatesOptedOut())
}

func TestFingerprintKey(t *testing.T) {
	amazon, _ := Get(models.ProviderAmazon)
	a := amazon.Build(models.ContributionEnvelope{ProofID: "p1"}, decode(t, `{"order_count": 5, "total_spend": 100, "prime_member": true}`))
	b := amazon.Build(models.ContributionEnvelope{ProofID: "p2"}, decode(t, `{"summary": {"order_count": 5, "total_spend": 100}}`))
	c := amazon.Build(models.ContributionEnvelope{}, decode(t, `{"order_count": 6, "total_spend": 100}`))

	assert.Equal(t, "amazon_contributions|order_count=5|total_spend=100", FingerprintKey(amazon, a))
	assert.Equal(t, FingerprintKey(amazon, a), FingerprintKey(amazon, b))
	assert.NotEqual(t, FingerprintKey(amazon, a), FingerprintKey(amazon, c))

	netflix, _ := Get(models.ProviderNetflix)
	n := netflix.Build(models.ContributionEnvelope{}, decode(t, `{"title_count": 5}`))
	assert.Equal(t, "netflix_contributions|title_count=5", FingerprintKey(netflix, n))
}

func TestNetflixCompletenessIsWatchHours(t *testing.T) {
	p, _ := Get(models.ProviderNetflix)
	row := p.Build(models.ContributionEnvelope{}, decode(t, `{"title_count": 40, "watch_hours": 120.5, "plan": "premium"}`))
	assert.Equal(t, 120.5, p.Completeness(row))
	assert.Equal(t, []string{"title_count"}, p.FingerprintColumns())
	assert.Equal(t, "premium", row.(*models.NetflixContribution).PlanTier)
}

func TestRecordAccessors(t *testing.T) {
	r := decode(t, `{"a": {"b": {"c": "7"}}, "flag": "true", "n": null, "ts": 1700000000}`)
	assert.Equal(t, int64(7), r.Int("a.b.c"))
	assert.Equal(t, int64(0), r.Int("a.b.missing", "n"))
	assert.True(t, r.Bool("flag"))
	assert.Equal(t, "", r.String("a.b"))
	require.NotNil(t, r.Time("ts"))
	assert.Nil(t, r.Time("n"))
	assert.Nil(t, r.Strings("a"))
}
