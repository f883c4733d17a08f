package providers

import "data-marketplace/models"

func init() {
	register(&table[models.AmazonContribution, *models.AmazonContribution]{
		typ:          models.ProviderAmazon,
		columns:      []string{"order_count", "total_spend", "prime_member", "top_categories", "account_since"},
		fingerprint:  []string{"order_count", "total_spend"},
		completeness: "order_count",
		reactivates:  true,
		extract: func(r Record, row *models.AmazonContribution) {
			row.OrderCount = r.Int("order_count", "summary.order_count", "orders.count")
			if row.OrderCount == 0 {
				row.OrderCount = r.Len("orders")
			}
			row.TotalSpend = r.Float("total_spend", "summary.total_spend", "orders.total_spend")
			row.PrimeMember = r.Bool("prime_member", "account.prime_member", "account.prime")
			row.TopCategories = r.Strings("top_categories", "summary.top_categories")
			row.AccountSince = r.Time("account_since", "account.created_at", "account.since")
		},
	})

	register(&table[models.UberContribution, *models.UberContribution]{
		typ:          models.ProviderUber,
		columns:      []string{"trip_count", "total_fare", "rider_rating", "cities"},
		fingerprint:  []string{"trip_count", "total_fare"},
		completeness: "trip_count",
		extract: func(r Record, row *models.UberContribution) {
			row.TripCount = r.Int("trip_count", "summary.trip_count", "trips.count")
			if row.TripCount == 0 {
				row.TripCount = r.Len("trips")
			}
			row.TotalFare = r.Float("total_fare", "summary.total_fare", "trips.total_fare")
			row.RiderRating = r.Float("rider_rating", "profile.rating", "rating")
			row.Cities = r.Strings("cities", "summary.cities")
		},
	})

	register(&table[models.NetflixContribution, *models.NetflixContribution]{
		typ:          models.ProviderNetflix,
		columns:      []string{"title_count", "watch_hours", "plan_tier", "top_genres"},
		fingerprint:  []string{"title_count"},
		completeness: "watch_hours",
		reactivates:  true,
		extract: func(r Record, row *models.NetflixContribution) {
			row.TitleCount = r.Int("title_count", "summary.title_count", "history.count")
			if row.TitleCount == 0 {
				row.TitleCount = r.Len("history")
			}
			row.WatchHours = r.Float("watch_hours", "summary.watch_hours")
			row.PlanTier = r.String("plan_tier", "account.plan", "plan")
			row.TopGenres = r.Strings("top_genres", "summary.top_genres")
		},
	})

	register(&table[models.TwitterContribution, *models.TwitterContribution]{
		typ:          models.ProviderTwitter,
		columns:      []string{"username", "follower_count", "following_count", "tweet_count", "verified"},
		fingerprint:  []string{"username"},
		completeness: "tweet_count",
		extract: func(r Record, row *models.TwitterContribution) {
			row.Username = FoldKey(r.String("username", "profile.username", "profile.screen_name", "screen_name"))
			row.FollowerCount = r.Int("follower_count", "profile.followers_count", "followers_count")
			row.FollowingCount = r.Int("following_count", "profile.friends_count", "following")
			row.TweetCount = r.Int("tweet_count", "profile.statuses_count", "statuses_count")
			row.Verified = r.Bool("verified", "profile.verified")
		},
	})
}
