package comptroller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"lendcore/crypto"
)

// Genesis is the initial risk configuration, usually loaded from TOML:
//
//	admin = "nhb1..."
//	oracle = "nhbm1..."
//	close_factor = "500000000000000000"
//	liquidation_incentive = "1080000000000000000"
//	max_assets = 20
//
//	[reward]
//	symbol = "COMP"
//	token = "nhbm1..."
//
//	[[markets]]
//	address = "nhbm1..."
//	collateral_factor = "750000000000000000"
//	borrow_cap = "0"
//	reward_speed = "1000000000000000"
//
// Fixed-point values are base-10 mantissas scaled by 1e18.
type Genesis struct {
	Admin                string               `toml:"admin"`
	PauseGuardian        string               `toml:"pause_guardian"`
	BorrowCapGuardian    string               `toml:"borrow_cap_guardian"`
	Oracle               string               `toml:"oracle"`
	CloseFactor          string               `toml:"close_factor"`
	LiquidationIncentive string               `toml:"liquidation_incentive"`
	MaxAssets            uint64               `toml:"max_assets"`
	Reward               GenesisReward        `toml:"reward"`
	Markets              []GenesisMarket      `toml:"markets"`
	Contributors         []GenesisContributor `toml:"contributors"`
}

type GenesisReward struct {
	Symbol string `toml:"symbol"`
	Token  string `toml:"token"`
}

type GenesisMarket struct {
	Address          string `toml:"address"`
	CollateralFactor string `toml:"collateral_factor"`
	BorrowCap        string `toml:"borrow_cap"`
	RewardSpeed      string `toml:"reward_speed"`
}

type GenesisContributor struct {
	Address string `toml:"address"`
	Speed   string `toml:"speed"`
}

// LoadGenesis reads and validates a TOML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	var g Genesis
	meta, err := toml.DecodeFile(path, &g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis: unknown keys %s", strings.Join(keys, ", "))
	}
	if _, err := g.compile(); err != nil {
		return nil, err
	}
	return &g, nil
}

// RewardConfig returns the reward token settings declared by the genesis.
func (g *Genesis) RewardConfig() (RewardConfig, error) {
	if g == nil {
		return RewardConfig{}, errors.New("genesis: nil")
	}
	cfg := RewardConfig{Symbol: strings.TrimSpace(g.Reward.Symbol)}
	if token := strings.TrimSpace(g.Reward.Token); token != "" {
		addr, err := crypto.DecodeAddress(token)
		if err != nil {
			return RewardConfig{}, fmt.Errorf("genesis: reward token: %w", err)
		}
		cfg.Token = addr
	}
	return cfg, nil
}

type compiledMarket struct {
	address          crypto.Address
	collateralFactor Exp
	borrowCap        *uint256.Int
	rewardSpeed      *uint256.Int
}

type compiledContributor struct {
	address crypto.Address
	speed   *uint256.Int
}

type compiledGenesis struct {
	admin                crypto.Address
	pauseGuardian        crypto.Address
	borrowCapGuardian    crypto.Address
	oracle               crypto.Address
	closeFactor          Exp
	liquidationIncentive Exp
	maxAssets            uint64
	markets              []compiledMarket
	contributors         []compiledContributor
}

func optionalAddress(field, value string) (crypto.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return crypto.Address{}, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return addr, nil
}

func (g *Genesis) compile() (*compiledGenesis, error) {
	if g == nil {
		return nil, errors.New("genesis: nil")
	}
	out := &compiledGenesis{maxAssets: g.MaxAssets}
	var err error
	if out.admin, err = optionalAddress("admin", g.Admin); err != nil {
		return nil, err
	}
	if out.admin.IsZero() {
		return nil, errors.New("genesis: admin is required")
	}
	if out.pauseGuardian, err = optionalAddress("pause_guardian", g.PauseGuardian); err != nil {
		return nil, err
	}
	if out.borrowCapGuardian, err = optionalAddress("borrow_cap_guardian", g.BorrowCapGuardian); err != nil {
		return nil, err
	}
	if out.oracle, err = optionalAddress("oracle", g.Oracle); err != nil {
		return nil, err
	}
	if out.closeFactor, err = ParseExp(g.CloseFactor); err != nil {
		return nil, fmt.Errorf("genesis: close_factor: %w", err)
	}
	if out.liquidationIncentive, err = ParseExp(g.LiquidationIncentive); err != nil {
		return nil, fmt.Errorf("genesis: liquidation_incentive: %w", err)
	}
	if _, err := g.RewardConfig(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(g.Markets))
	for i, market := range g.Markets {
		addr, err := optionalAddress(fmt.Sprintf("markets[%d].address", i), market.Address)
		if err != nil {
			return nil, err
		}
		if addr.IsZero() {
			return nil, fmt.Errorf("genesis: markets[%d]: address is required", i)
		}
		if _, dup := seen[addr.Key()]; dup {
			return nil, fmt.Errorf("genesis: market %s listed twice", addr)
		}
		seen[addr.Key()] = struct{}{}
		factor, err := ParseExp(market.CollateralFactor)
		if err != nil {
			return nil, fmt.Errorf("genesis: markets[%d].collateral_factor: %w", i, err)
		}
		borrowCap, err := ParseAmount(market.BorrowCap)
		if err != nil {
			return nil, fmt.Errorf("genesis: markets[%d].borrow_cap: %w", i, err)
		}
		speed, err := ParseAmount(market.RewardSpeed)
		if err != nil {
			return nil, fmt.Errorf("genesis: markets[%d].reward_speed: %w", i, err)
		}
		out.markets = append(out.markets, compiledMarket{
			address:          addr,
			collateralFactor: factor,
			borrowCap:        borrowCap,
			rewardSpeed:      speed,
		})
	}
	for i, contributor := range g.Contributors {
		addr, err := optionalAddress(fmt.Sprintf("contributors[%d].address", i), contributor.Address)
		if err != nil {
			return nil, err
		}
		if addr.IsZero() {
			return nil, fmt.Errorf("genesis: contributors[%d]: address is required", i)
		}
		speed, err := ParseAmount(contributor.Speed)
		if err != nil {
			return nil, fmt.Errorf("genesis: contributors[%d].speed: %w", i, err)
		}
		out.contributors = append(out.contributors, compiledContributor{address: addr, speed: speed})
	}
	return out, nil
}

// ApplyGenesis seeds an empty store from g in a single call, running every
// setting through the regular admin path. It returns false without touching
// state when the store is already initialised.
func (e *Engine) ApplyGenesis(g *Genesis) (bool, error) {
	compiled, err := g.compile()
	if err != nil {
		return false, err
	}
	applied := false
	err = e.run("apply_genesis", false, func(tx *txn) error {
		if tx.hasParams() {
			return nil
		}
		applied = true
		return tx.applyGenesis(compiled)
	})
	if err != nil {
		return false, err
	}
	if applied {
		e.logger.Info("genesis applied", "markets", len(compiled.markets), "admin", compiled.admin.String())
	}
	return applied, nil
}

func (tx *txn) applyGenesis(g *compiledGenesis) error {
	admin := g.admin
	if err := tx.initialize(admin); err != nil {
		return err
	}
	steps := []func() error{
		func() error {
			if g.oracle.IsZero() {
				return nil
			}
			return tx.setAddressParam("oracle", g.oracle, func(p *Params) *crypto.Address { return &p.Oracle })
		},
		func() error {
			return tx.setAddressParam("pause_guardian", g.pauseGuardian, func(p *Params) *crypto.Address { return &p.PauseGuardian })
		},
		func() error {
			return tx.setAddressParam("borrow_cap_guardian", g.borrowCapGuardian, func(p *Params) *crypto.Address { return &p.BorrowCapGuardian })
		},
		func() error {
			if g.closeFactor.IsZero() {
				return nil
			}
			return tx.setCloseFactor(g.closeFactor)
		},
		func() error {
			if g.liquidationIncentive.IsZero() {
				return nil
			}
			return tx.setLiquidationIncentive(g.liquidationIncentive)
		},
		func() error {
			tx.setMaxAssets(g.maxAssets)
			return nil
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	for _, market := range g.markets {
		if err := tx.listMarket(admin, market.address); err != nil {
			return fmt.Errorf("list %s: %w", market.address, err)
		}
		if !market.collateralFactor.IsZero() {
			if err := tx.setCollateralFactor(admin, market.address, market.collateralFactor); err != nil {
				return fmt.Errorf("collateral factor of %s: %w", market.address, err)
			}
		}
		if !market.borrowCap.IsZero() {
			caps := []*uint256.Int{market.borrowCap}
			if err := tx.setMarketBorrowCaps(admin, []crypto.Address{market.address}, caps); err != nil {
				return fmt.Errorf("borrow cap of %s: %w", market.address, err)
			}
		}
		if !market.rewardSpeed.IsZero() {
			if err := tx.setRewardSpeed(admin, market.address, market.rewardSpeed); err != nil {
				return fmt.Errorf("reward speed of %s: %w", market.address, err)
			}
		}
	}
	for _, contributor := range g.contributors {
		if contributor.speed.IsZero() {
			continue
		}
		tx.putContributorBlock(contributor.address, tx.height)
		tx.putContributorSpeed(contributor.address, contributor.speed)
		tx.emit(RewardSpeedChanged{Contributor: contributor.address, Previous: zero(), Current: contributor.speed})
	}
	return nil
}
