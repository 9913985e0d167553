package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Instance is one deployed pool: a fixed amount of one currency.
type Instance struct {
	Currency      string
	Amount        string
	Address       common.Address
	DeployedBlock uint64
	Decimals      int32
}

type rawInstance struct {
	Currency      string `mapstructure:"currency"`
	Amount        string `mapstructure:"amount"`
	Address       string `mapstructure:"address"`
	DeployedBlock uint64 `mapstructure:"deployed-block"`
	Decimals      int32  `mapstructure:"decimals"`
}

func loadInstances(v *viper.Viper) ([]Instance, error) {
	if !v.IsSet("instances") {
		return nil, nil
	}

	var raw []rawInstance
	if err := v.UnmarshalKey("instances", &raw); err != nil {
		return nil, fmt.Errorf("decode instances: %w", err)
	}

	instances := make([]Instance, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, item := range raw {
		currency := strings.ToLower(strings.TrimSpace(item.Currency))
		amount := strings.TrimSpace(item.Amount)
		if currency == "" || amount == "" {
			return nil, fmt.Errorf("instance %d: currency and amount are required", i)
		}
		address, err := ParseAddress(item.Address)
		if err != nil {
			return nil, fmt.Errorf("instance %s %s: %w", currency, amount, err)
		}
		id := currency + "/" + amount
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicate instance %s %s", currency, amount)
		}
		seen[id] = struct{}{}

		decimals := item.Decimals
		if decimals == 0 {
			decimals = 18
		}
		instances = append(instances, Instance{
			Currency:      currency,
			Amount:        amount,
			Address:       address,
			DeployedBlock: item.DeployedBlock,
			Decimals:      decimals,
		})
	}
	return instances, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}
