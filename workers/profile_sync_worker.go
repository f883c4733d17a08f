package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"data-marketplace/logger"

	"github.com/sirupsen/logrus"
)

// WalletChange is one entry of the identity service's wallet feed.
type WalletChange struct {
	ExternalUserID string    `json:"user_id"`
	Address        string    `json:"address"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type WalletUpdater interface {
	SyncWallet(ctx context.Context, externalID, wallet string) (bool, error)
}

// ProfileSyncWorker mirrors out-of-band wallet changes from the identity
// service into users.wallet_address. The referral reconciliation job then
// copies them into referral rows.
type ProfileSyncWorker struct {
	baseURL    string
	token      string
	interval   time.Duration
	users      WalletUpdater
	httpClient *http.Client
}

func NewProfileSyncWorker(baseURL, token string, interval time.Duration, users WalletUpdater) *ProfileSyncWorker {
	return &ProfileSyncWorker{
		baseURL:  baseURL,
		token:    token,
		interval: interval,
		users:    users,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ProfileSyncWorker) GetChangedWallets(ctx context.Context, since time.Time) ([]WalletChange, error) {
	u, err := url.Parse(w.baseURL + "/api/v1/public/wallets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []WalletChange `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Wallets, nil
}

// SyncOnce applies every change since the given time. It returns the number
// of users updated; on error the caller keeps its watermark.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	changes, err := w.GetChangedWallets(ctx, since)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, ch := range changes {
		if ch.ExternalUserID == "" {
			continue
		}
		wallet := ch.Address
		if !ch.IsActive {
			wallet = ""
		}
		found, err := w.users.SyncWallet(ctx, ch.ExternalUserID, wallet)
		if err != nil {
			return updated, fmt.Errorf("sync wallet for %s: %w", ch.ExternalUserID, err)
		}
		if found {
			updated++
		}
	}
	return updated, nil
}

// Run polls until ctx is done.
func (w *ProfileSyncWorker) Run(ctx context.Context) {
	logger.Infof("starting profile sync worker (every %s)", w.interval)
	lastSync := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("profile sync worker stopped")
			return
		case <-ticker.C:
			started := time.Now().UTC()
			n, err := w.SyncOnce(ctx, lastSync)
			if err != nil {
				// keep the watermark so the same window is retried
				logger.WithFields(logrus.Fields{"since": lastSync}).Errorf("profile sync failed: %v", err)
				continue
			}
			lastSync = started
			if n > 0 {
				logger.Infof("profile sync updated %d wallet(s)", n)
			}
		}
	}
}
