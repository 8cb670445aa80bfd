package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/billpay/internal/money"
)

// PostgresRepository reads service provider configs from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a config reader backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches the config for the given provider code and service type.
func (r *PostgresRepository) Get(ctx context.Context, code string, serviceType ServiceType) (ServiceProviderConfig, error) {
	const query = `
        SELECT code, service_type, is_enabled, commission_type, commission_rate::text, flat_fee_minor
        FROM service_provider_configs
        WHERE code = $1 AND service_type = $2`

	var (
		cfg     ServiceProviderConfig
		svc     string
		ctype   string
		rateStr string
		flatFee int64
	)
	err := r.db.QueryRow(ctx, query, code, string(serviceType)).Scan(&cfg.Code, &svc, &cfg.IsEnabled, &ctype, &rateStr, &flatFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceProviderConfig{}, ErrNotFound
		}
		return ServiceProviderConfig{}, fmt.Errorf("query service provider config: %w", err)
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return ServiceProviderConfig{}, fmt.Errorf("parse commission rate %q: %w", rateStr, err)
	}
	cfg.ServiceType = ServiceType(svc)
	cfg.CommissionType = CommissionType(ctype)
	cfg.CommissionRate = rate
	cfg.FlatFeeAmount = money.FromMinor(flatFee)
	return cfg, nil
}
