package maker

import (
	"context"
	"time"
)

// RunBalanceRefresher polls GetBalances on cfg.BalancePollInterval and
// publishes each result via the atomic pointer Balances() reads.
func (m *MarketMaker) RunBalanceRefresher(ctx context.Context) {
	m.refreshBalances(ctx)

	ticker := time.NewTicker(m.cfg.BalancePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshBalances(ctx)
		}
	}
}

func (m *MarketMaker) refreshBalances(ctx context.Context) {
	balances, err := m.client.GetBalances(ctx)
	if err != nil {
		m.logger.Error("refresh balances failed", "error", err)
		return
	}
	m.balances.Store(&balances)
}
