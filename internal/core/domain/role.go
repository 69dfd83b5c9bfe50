package domain

// Direction is the side of the trade a party takes on the base asset.
type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	if d == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite ...
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Side tells whether a party posted the offer or took it.
type Side int

const (
	Maker Side = iota
	Taker
)

// Role is the combination of direction and side of the local party.
type Role struct {
	Direction Direction `json:"direction"`
	Side      Side      `json:"side"`
}

var (
	BuyerAsMaker  = Role{Buy, Maker}
	BuyerAsTaker  = Role{Buy, Taker}
	SellerAsMaker = Role{Sell, Maker}
	SellerAsTaker = Role{Sell, Taker}
)

// MakerRole returns the role of the maker of an offer with the given
// direction.
func MakerRole(offerDirection Direction) Role {
	return Role{offerDirection, Maker}
}

// TakerRole returns the role of the taker of an offer with the given
// direction.
func TakerRole(offerDirection Direction) Role {
	return Role{offerDirection.Opposite(), Taker}
}

func (r Role) IsBuyer() bool  { return r.Direction == Buy }
func (r Role) IsSeller() bool { return r.Direction == Sell }
func (r Role) IsMaker() bool  { return r.Side == Maker }
func (r Role) IsTaker() bool  { return r.Side == Taker }

// Peer returns the role of the counterparty.
func (r Role) Peer() Role {
	side := Taker
	if r.Side == Taker {
		side = Maker
	}
	return Role{r.Direction.Opposite(), side}
}

func (r Role) String() string {
	switch r {
	case BuyerAsMaker:
		return "BuyerAsMaker"
	case BuyerAsTaker:
		return "BuyerAsTaker"
	case SellerAsMaker:
		return "SellerAsMaker"
	default:
		return "SellerAsTaker"
	}
}
