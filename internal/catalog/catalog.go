package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/billpay/internal/money"
)

// ServiceType enumerates the product families sold through the wallet.
type ServiceType string

const (
	ServiceAirtime     ServiceType = "airtime"
	ServiceData        ServiceType = "data"
	ServiceTV          ServiceType = "tv"
	ServiceElectricity ServiceType = "electricity"
	ServiceEducation   ServiceType = "education"
	ServiceInsurance   ServiceType = "insurance"
)

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceAirtime, ServiceData, ServiceTV, ServiceElectricity, ServiceEducation, ServiceInsurance:
		return true
	}
	return false
}

// CommissionType selects how the discount is derived from a config.
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFlatFee    CommissionType = "flatFee"
)

// ErrNotFound is returned when no config exists for a (provider, service type) pair.
var ErrNotFound = errors.New("service provider config not found")

// ServiceProviderConfig is the administratively managed commission setting for one product line.
type ServiceProviderConfig struct {
	Code           string          `json:"code"`
	ServiceType    ServiceType     `json:"service_type"`
	IsEnabled      bool            `json:"is_enabled"`
	CommissionType CommissionType  `json:"commission_type"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	FlatFeeAmount  money.Amount    `json:"flat_fee_amount"`
}

// Repository is the read side of the config store. Writes belong to the admin collaborator.
type Repository interface {
	Get(ctx context.Context, code string, serviceType ServiceType) (ServiceProviderConfig, error)
}

// Discount computes the discount for requested under cfg, clamped to [0, requested].
// A nil or disabled config yields zero.
func Discount(cfg *ServiceProviderConfig, requested money.Amount) money.Amount {
	if cfg == nil || !cfg.IsEnabled || !requested.IsPositive() {
		return money.Zero
	}
	var raw money.Amount
	switch cfg.CommissionType {
	case CommissionPercentage:
		raw = requested.Percent(cfg.CommissionRate)
	case CommissionFlatFee:
		raw = cfg.FlatFeeAmount
	default:
		return money.Zero
	}
	return raw.Clamp(money.Zero, requested)
}

// Lookup resolves the config for a purchase. A missing config is not an error: it
// returns (nil, nil) and the purchase proceeds without a discount.
func Lookup(ctx context.Context, repo Repository, code string, serviceType ServiceType) (*ServiceProviderConfig, error) {
	if repo == nil {
		return nil, nil
	}
	cfg, err := repo.Get(ctx, code, serviceType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}
