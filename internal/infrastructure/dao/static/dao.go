package static

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

const defaultHeightCacheTTL = 30 * time.Second

// HeightSource returns the height of the best chain.
type HeightSource interface {
	ChainHeight() (int32, error)
}

type Config struct {
	DonationAddress        string
	DefaultDonationAddress string
	GenesisHeight          int32
	UseReceivers           bool
	// ClaimsFile is an optional JSON file with the list of compensation
	// claims.
	ClaimsFile     string
	Heights        HeightSource
	HeightCacheTTL time.Duration
}

func (c Config) validate() error {
	if c.DefaultDonationAddress == "" {
		return fmt.Errorf("missing default donation address")
	}
	if c.Heights == nil {
		return fmt.Errorf("missing height source")
	}
	if c.GenesisHeight < 0 {
		return fmt.Errorf("genesis height must not be negative")
	}
	return nil
}

type daoParams struct {
	donation      validation.DonationAddresses
	genesisHeight int32
	useReceivers  bool
	claims        []receivers.Claim
	heights       HeightSource
	ttl           time.Duration

	lock       sync.Mutex
	height     int32
	lastUpdate time.Time
}

// NewDaoParams returns governance params read once from config. Only the
// chain height is resolved at runtime.
func NewDaoParams(cfg Config) (ports.DaoParams, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	claims, err := loadClaims(cfg.ClaimsFile)
	if err != nil {
		return nil, err
	}
	if cfg.UseReceivers && len(claims) <= 0 {
		return nil, fmt.Errorf("receivers mode requires a non empty claims file")
	}

	current := cfg.DonationAddress
	if current == "" {
		current = cfg.DefaultDonationAddress
	}
	ttl := cfg.HeightCacheTTL
	if ttl <= 0 {
		ttl = defaultHeightCacheTTL
	}

	return &daoParams{
		donation: validation.DonationAddresses{
			Current: current,
			Default: cfg.DefaultDonationAddress,
		},
		genesisHeight: cfg.GenesisHeight,
		useReceivers:  cfg.UseReceivers,
		claims:        claims,
		heights:       cfg.Heights,
		ttl:           ttl,
	}, nil
}

func (d *daoParams) DonationAddresses(
	context.Context,
) (validation.DonationAddresses, error) {
	return d.donation, nil
}

func (d *daoParams) CompensationClaims(
	_ context.Context, maxBlockHeight int32,
) ([]receivers.Claim, error) {
	claims := make([]receivers.Claim, 0, len(d.claims))
	for _, c := range d.claims {
		if c.BlockHeight <= maxBlockHeight {
			claims = append(claims, c)
		}
	}
	return claims, nil
}

func (d *daoParams) ChainHeight(context.Context) (int32, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.lastUpdate.IsZero() && time.Since(d.lastUpdate) < d.ttl {
		return d.height, nil
	}
	height, err := d.heights.ChainHeight()
	if err != nil {
		return 0, err
	}
	d.height = height
	d.lastUpdate = time.Now()
	return height, nil
}

func (d *daoParams) GenesisHeight() int32 {
	return d.genesisHeight
}

func (d *daoParams) UseReceivers() bool {
	return d.useReceivers
}

func loadClaims(path string) ([]receivers.Claim, error) {
	if path == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read claims file: %w", err)
	}
	var claims []receivers.Claim
	if err := json.Unmarshal(buf, &claims); err != nil {
		return nil, fmt.Errorf("invalid claims file: %w", err)
	}
	for i, c := range claims {
		if c.Amount <= 0 || c.Address == "" {
			return nil, fmt.Errorf("invalid claim at index %d", i)
		}
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].BlockHeight < claims[j].BlockHeight
	})
	return claims, nil
}
